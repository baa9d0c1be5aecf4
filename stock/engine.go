/*
engine.go - The ledger engine

PURPOSE:
  The Engine is the single writer of batches, transactions, and balances.
  It exposes five operations (Receive, Withdraw, Transfer, Adjust,
  RejectBatch), each atomic: fully applied or fully rejected, with no
  partial state visible to other callers.

PLAN / APPLY SPLIT:
  Withdrawals and transfers run in two phases inside one store transaction:

    1. PLAN:  load eligible batches, sort by the consumption policy, walk
              the list greedily taking min(batch.Remaining, still needed).
              If the list runs out first, fail with InsufficientStock;
              nothing has been written.
    2. APPLY: decrement the planned batches, update the balance, append
              exactly one transaction record.

  Because both phases run inside WithTx, two concurrent withdrawals cannot
  both observe sufficient stock and jointly over-withdraw; the store-level
  transaction is the source of truth for that guarantee.

SIDE EFFECTS:
  Every successful call appends exactly one StockTransaction and updates
  the balance. Failed calls have zero observable side effects.

TRANSFER PROVENANCE:
  A transfer re-homes stock without making it "new": destination batches
  keep the source batches' quality grade and receipt time, and the whole
  move is recorded as one transfer transaction, not a withdraw+receive
  pair.

SEE ALSO:
  - policy.go: consumption ordering
  - reconcile.go: drift detection over the balances this engine maintains
*/
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Engine applies ledger operations atomically against a TxStore.
type Engine struct {
	Store  TxStore
	Policy ConsumptionPolicy

	// Now is the clock used for receipt and transaction timestamps.
	// Overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewEngine creates an engine with the given consumption policy.
func NewEngine(store TxStore, policy ConsumptionPolicy) *Engine {
	if policy == "" {
		policy = PolicyFIFO
	}
	return &Engine{Store: store, Policy: policy, Now: time.Now}
}

// =============================================================================
// RECEIVE
// =============================================================================

// Receive creates a new batch with Remaining = qty, appends a receive
// transaction, and increments the balance for (location, item).
func (e *Engine) Receive(ctx context.Context, item ItemID, location LocationID, qty Quantity, quality int) (BatchID, error) {
	if !qty.IsPositive() {
		return "", &InvalidQuantityError{Op: "receive", Qty: qty}
	}

	now := e.Now()
	batch, err := NewStockBatch(BatchID(uuid.NewString()), item, location, qty, quality, now)
	if err != nil {
		return "", err
	}

	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := s.InsertBatch(ctx, batch); err != nil {
			return err
		}
		if err := e.shiftBalance(ctx, s, location, item, qty); err != nil {
			return err
		}
		loc := location
		return s.AppendTransaction(ctx, StockTransaction{
			ID:             TransactionID(uuid.NewString()),
			Type:           TxReceive,
			Item:           item,
			Qty:            qty,
			To:             &loc,
			BatchesCreated: []BatchRef{{BatchID: batch.ID, Qty: qty}},
			CreatedAt:      now,
		})
	})
	if err != nil {
		return "", err
	}
	return batch.ID, nil
}

// =============================================================================
// WITHDRAW
// =============================================================================

// Withdraw consumes qty from (location, item) in consumption-policy order.
// All-or-nothing: if total available stock is short, no batch or balance is
// mutated and the returned error carries the exact shortfall.
func (e *Engine) Withdraw(ctx context.Context, item ItemID, location LocationID, qty Quantity) ([]BatchTake, error) {
	if !qty.IsPositive() {
		return nil, &InvalidQuantityError{Op: "withdraw", Qty: qty}
	}

	var takes []BatchTake
	now := e.Now()

	err := e.Store.WithTx(ctx, func(s Store) error {
		plan, err := e.planConsumption(ctx, s, item, location, qty)
		if err != nil {
			return err
		}
		if err := e.applyConsumption(ctx, s, plan); err != nil {
			return err
		}
		if err := e.shiftBalance(ctx, s, location, item, qty.Neg()); err != nil {
			return err
		}

		takes = plan.takes()
		loc := location
		return s.AppendTransaction(ctx, StockTransaction{
			ID:              TransactionID(uuid.NewString()),
			Type:            TxWithdraw,
			Item:            item,
			Qty:             qty,
			From:            &loc,
			BatchesConsumed: batchRefs(takes),
			CreatedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}
	return takes, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer moves qty from one location to another atomically. Destination
// batches preserve the source batches' quality and receipt time, and the
// move is recorded as a single transfer transaction. Fails exactly as
// Withdraw does if source stock is insufficient; never partially transfers.
func (e *Engine) Transfer(ctx context.Context, item ItemID, from, to LocationID, qty Quantity) ([]BatchTake, error) {
	if !qty.IsPositive() {
		return nil, &InvalidQuantityError{Op: "transfer", Qty: qty}
	}
	if from == to {
		return nil, fmt.Errorf("transfer: source and destination are the same location (%s)", from)
	}

	var takes []BatchTake
	now := e.Now()

	err := e.Store.WithTx(ctx, func(s Store) error {
		plan, err := e.planConsumption(ctx, s, item, from, qty)
		if err != nil {
			return err
		}
		if err := e.applyConsumption(ctx, s, plan); err != nil {
			return err
		}

		// Re-home the consumed slices as destination batches with the
		// original provenance.
		var created []BatchRef
		for _, entry := range plan.entries {
			dest := StockBatch{
				ID:         BatchID(uuid.NewString()),
				Item:       item,
				Location:   to,
				Initial:    entry.take,
				Remaining:  entry.take,
				Quality:    entry.batch.Quality,
				ReceivedAt: entry.batch.ReceivedAt,
				Status:     BatchAvailable,
			}
			if err := s.InsertBatch(ctx, dest); err != nil {
				return err
			}
			created = append(created, BatchRef{BatchID: dest.ID, Qty: entry.take})
		}

		if err := e.shiftBalance(ctx, s, from, item, qty.Neg()); err != nil {
			return err
		}
		if err := e.shiftBalance(ctx, s, to, item, qty); err != nil {
			return err
		}

		takes = plan.takes()
		src, dst := from, to
		return s.AppendTransaction(ctx, StockTransaction{
			ID:              TransactionID(uuid.NewString()),
			Type:            TxTransfer,
			Item:            item,
			Qty:             qty,
			From:            &src,
			To:              &dst,
			BatchesConsumed: batchRefs(takes),
			BatchesCreated:  created,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}
	return takes, nil
}

// =============================================================================
// ADJUST
// =============================================================================

// Adjust applies an administrative correction to a specific batch's
// remaining quantity, clamped to [0, Initial]. Used only for
// reconciliation and audit corrections, never regular flow. The reason is
// retained on the adjust transaction.
func (e *Engine) Adjust(ctx context.Context, item ItemID, location LocationID, batchID BatchID, delta Quantity, reason string) error {
	if delta.IsZero() {
		return &InvalidQuantityError{Op: "adjust", Qty: delta}
	}

	now := e.Now()
	return e.Store.WithTx(ctx, func(s Store) error {
		batch, err := s.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Item != item || batch.Location != location {
			return fmt.Errorf("%w: batch %s is %s at %s", ErrBatchMismatch, batchID, batch.Item, batch.Location)
		}
		if batch.Status == BatchRejected {
			return fmt.Errorf("%w: batch %s", ErrBatchRejected, batchID)
		}

		// Clamp to [0, Initial]; the applied delta may be smaller than
		// requested.
		target := batch.Remaining.Add(delta)
		target = target.Max(ZeroQuantity()).Min(batch.Initial)
		applied := target.Sub(batch.Remaining)
		if applied.IsZero() {
			return &InvalidQuantityError{Op: "adjust", Qty: applied}
		}

		batch.Remaining = target
		if batch.Remaining.IsZero() {
			batch.Status = BatchDepleted
		} else if batch.Status == BatchDepleted {
			batch.Status = BatchAvailable
		}
		if err := s.UpdateBatch(ctx, *batch); err != nil {
			return err
		}
		if err := e.shiftBalance(ctx, s, location, item, applied); err != nil {
			return err
		}

		loc := location
		tx := StockTransaction{
			ID:        TransactionID(uuid.NewString()),
			Type:      TxAdjust,
			Item:      item,
			Reason:    reason,
			CreatedAt: now,
		}
		if applied.IsPositive() {
			tx.Qty = applied
			tx.To = &loc
			tx.BatchesCreated = []BatchRef{{BatchID: batchID, Qty: applied}}
		} else {
			tx.Qty = applied.Neg()
			tx.From = &loc
			tx.BatchesConsumed = []BatchRef{{BatchID: batchID, Qty: applied.Neg()}}
		}
		return s.AppendTransaction(ctx, tx)
	})
}

// =============================================================================
// REJECT
// =============================================================================

// RejectBatch writes off a batch's entire remaining quantity, for example
// after a failed quality inspection. The batch is marked rejected and can
// no longer supply withdrawals or be adjusted; the write-off is recorded
// as an adjust transaction with the reason retained.
func (e *Engine) RejectBatch(ctx context.Context, item ItemID, location LocationID, batchID BatchID, reason string) error {
	now := e.Now()
	return e.Store.WithTx(ctx, func(s Store) error {
		batch, err := s.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Item != item || batch.Location != location {
			return fmt.Errorf("%w: batch %s is %s at %s", ErrBatchMismatch, batchID, batch.Item, batch.Location)
		}
		if batch.Status == BatchRejected {
			return fmt.Errorf("%w: batch %s", ErrBatchRejected, batchID)
		}

		writtenOff := batch.Remaining
		if writtenOff.IsZero() {
			// Nothing left to write off; the batch is already closed out.
			return &InvalidQuantityError{Op: "reject", Qty: writtenOff}
		}

		batch.Remaining = ZeroQuantity()
		batch.Status = BatchRejected
		if err := s.UpdateBatch(ctx, *batch); err != nil {
			return err
		}
		if err := e.shiftBalance(ctx, s, location, item, writtenOff.Neg()); err != nil {
			return err
		}

		loc := location
		return s.AppendTransaction(ctx, StockTransaction{
			ID:              TransactionID(uuid.NewString()),
			Type:            TxAdjust,
			Item:            item,
			Qty:             writtenOff,
			From:            &loc,
			BatchesConsumed: []BatchRef{{BatchID: batchID, Qty: writtenOff}},
			Reason:          reason,
			CreatedAt:       now,
		})
	})
}

// =============================================================================
// PLAN / APPLY
// =============================================================================

type planEntry struct {
	batch StockBatch
	take  Quantity
}

type consumptionPlan struct {
	entries []planEntry
}

func (p *consumptionPlan) takes() []BatchTake {
	out := make([]BatchTake, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, BatchTake{BatchID: e.batch.ID, Qty: e.take})
	}
	return out
}

// batchRefs converts an allocation result into transaction batch references.
func batchRefs(takes []BatchTake) []BatchRef {
	refs := make([]BatchRef, 0, len(takes))
	for _, t := range takes {
		refs = append(refs, BatchRef{BatchID: t.BatchID, Qty: t.Qty})
	}
	return refs
}

// planConsumption computes the allocation without mutating anything.
// Validates total sufficiency before any batch is touched.
func (e *Engine) planConsumption(ctx context.Context, s Store, item ItemID, location LocationID, qty Quantity) (*consumptionPlan, error) {
	batches, err := s.BatchesAt(ctx, location, item)
	if err != nil {
		return nil, err
	}

	eligible := batches[:0]
	available := ZeroQuantity()
	for _, b := range batches {
		if b.IsConsumable() {
			eligible = append(eligible, b)
			available = available.Add(b.Remaining)
		}
	}
	if available.LessThan(qty) {
		return nil, &InsufficientStockError{
			Item:      item,
			Location:  location,
			Requested: qty,
			Available: available,
			Shortfall: qty.Sub(available),
		}
	}

	SortBatches(eligible, e.Policy)

	plan := &consumptionPlan{}
	remaining := qty
	for _, b := range eligible {
		if remaining.IsZero() {
			break
		}
		take := b.Remaining.Min(remaining)
		plan.entries = append(plan.entries, planEntry{batch: b, take: take})
		remaining = remaining.Sub(take)
	}
	return plan, nil
}

// applyConsumption decrements the planned batches.
func (e *Engine) applyConsumption(ctx context.Context, s Store, plan *consumptionPlan) error {
	for i := range plan.entries {
		b := plan.entries[i].batch
		b.Remaining = b.Remaining.Sub(plan.entries[i].take)
		if b.Remaining.IsZero() {
			b.Status = BatchDepleted
		}
		if err := s.UpdateBatch(ctx, b); err != nil {
			return err
		}
		plan.entries[i].batch = b
	}
	return nil
}

// shiftBalance moves the materialized balance by delta.
func (e *Engine) shiftBalance(ctx context.Context, s Store, location LocationID, item ItemID, delta Quantity) error {
	current, err := s.Balance(ctx, location, item)
	if err != nil {
		return err
	}
	return s.SetBalance(ctx, location, item, current.Add(delta))
}
