/*
reconcile.go - Drift detection between balances and batch remainders

PURPOSE:
  The balance table is a materialized projection of batch remainders. The
  Reconciler recomputes the batch sum for every pair with a nonzero
  balance and repairs or reports any divergence.

REPAIR RULES:
  balance > batch sum:
    The shortfall is synthesized as one compensating batch (neutral
    quality, received now, tagged auto-reconciliation). On-hand quantity
    is never destroyed by a repair; the batch side is brought up to the
    balance.

  batch sum > balance:
    The balance was decremented without ledger involvement. This is an
    authority violation: reported for manual review, never auto-repaired
    by deleting batch quantity.

IDEMPOTENCY:
  Running the checker twice with no intervening mutations produces zero
  corrections on the second run: the synthesized batch closes the gap.

OUTPUT:
  A structured Report of everything examined, corrected, and flagged.
  Findings are reported, not thrown; drift detection is advisory.
*/
package stock

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// ReconcileReasonTag marks batches and transactions the Reconciler synthesizes.
const ReconcileReasonTag = "auto-reconciliation"

// Correction records one compensating batch the Reconciler created.
type Correction struct {
	Item     ItemID
	Location LocationID
	BatchID  BatchID
	Amount   Quantity
}

// Violation records one pair whose batch sum exceeds the stored balance.
type Violation struct {
	Item     ItemID
	Location LocationID
	Balance  Quantity
	BatchSum Quantity
	Err      *AuthorityViolationError
}

// Report is the structured outcome of one reconciliation pass.
type Report struct {
	CheckedAt    time.Time
	PairsChecked int
	Corrections  []Correction
	Violations   []Violation
}

// Clean reports whether no drift of either kind was found.
func (r *Report) Clean() bool {
	return len(r.Corrections) == 0 && len(r.Violations) == 0
}

// Reconciler detects and repairs drift between the balance table and the
// sum of batch remainders.
type Reconciler struct {
	Store TxStore

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewReconciler(store TxStore) *Reconciler {
	return &Reconciler{Store: store, Now: time.Now}
}

// Check runs one reconciliation pass over every pair with a nonzero
// balance. Each pair is examined and repaired inside its own store
// transaction so a failure on one pair does not abort the rest.
func (r *Reconciler) Check(ctx context.Context) (*Report, error) {
	report := &Report{CheckedAt: r.Now()}

	balances, err := r.Store.Balances(ctx)
	if err != nil {
		return nil, err
	}

	for _, bal := range balances {
		report.PairsChecked++
		if err := r.checkPair(ctx, bal, report); err != nil {
			log.Printf("[Reconcile] Error checking %s/%s: %v", bal.Location, bal.Item, err)
		}
	}

	if !report.Clean() {
		log.Printf("[Reconcile] Completed: %d pairs, %d corrections, %d violations",
			report.PairsChecked, len(report.Corrections), len(report.Violations))
	}
	return report, nil
}

func (r *Reconciler) checkPair(ctx context.Context, bal StockBalance, report *Report) error {
	return r.Store.WithTx(ctx, func(s Store) error {
		// Re-read inside the transaction; the snapshot outside may be stale.
		stored, err := s.Balance(ctx, bal.Location, bal.Item)
		if err != nil {
			return err
		}
		batches, err := s.BatchesAt(ctx, bal.Location, bal.Item)
		if err != nil {
			return err
		}

		sum := ZeroQuantity()
		for _, b := range batches {
			sum = sum.Add(b.Remaining)
		}

		switch {
		case stored.Equal(sum):
			return nil

		case stored.GreaterThan(sum):
			// Batch side lost quantity the balance still claims: synthesize
			// a compensating batch rather than shrinking the balance.
			shortfall := stored.Sub(sum)
			comp := StockBatch{
				ID:         BatchID(uuid.NewString()),
				Item:       bal.Item,
				Location:   bal.Location,
				Initial:    shortfall,
				Remaining:  shortfall,
				Quality:    NeutralQuality,
				ReceivedAt: r.Now(),
				Status:     BatchAvailable,
				Reason:     ReconcileReasonTag,
			}
			if err := s.InsertBatch(ctx, comp); err != nil {
				return err
			}
			loc := bal.Location
			if err := s.AppendTransaction(ctx, StockTransaction{
				ID:             TransactionID(uuid.NewString()),
				Type:           TxAdjust,
				Item:           bal.Item,
				Qty:            shortfall,
				To:             &loc,
				BatchesCreated: []BatchRef{{BatchID: comp.ID, Qty: shortfall}},
				Reason:         ReconcileReasonTag,
				CreatedAt:      r.Now(),
			}); err != nil {
				return err
			}
			report.Corrections = append(report.Corrections, Correction{
				Item:     bal.Item,
				Location: bal.Location,
				BatchID:  comp.ID,
				Amount:   shortfall,
			})
			return nil

		default:
			// sum > stored: the balance was edited outside the ledger.
			report.Violations = append(report.Violations, Violation{
				Item:     bal.Item,
				Location: bal.Location,
				Balance:  stored,
				BatchSum: sum,
				Err: &AuthorityViolationError{
					Item:     bal.Item,
					Location: bal.Location,
					Balance:  stored,
					BatchSum: sum,
				},
			})
			return nil
		}
	})
}
