/*
Package stock provides the batch-based stock ledger engine.

PURPOSE:
  This package contains the core accounting types and algorithms for
  tracking physical stock across a multi-location network. Every quantity
  change (receiving, withdrawal, transfer, correction) flows through the
  Engine and is recorded in an append-only transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: A decimal stock quantity (never floats)
  - StockBatch: A discrete receipt of an item at a location
  - StockTransaction: An immutable ledger entry recording a quantity change
  - StockBalance: The materialized per-(location, item) on-hand total

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never edited; corrections are new
     adjust transactions
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing item/location IDs
  4. Auditability: Depleted batches are never deleted

CORE INVARIANT:
  For every (location, item), after each successful Engine call:

    balance.OnHand == Σ batch.Remaining over all batches at that pair

  Temporary divergence is a bug, detected by the Reconciler (reconcile.go).

SEE ALSO:
  - engine.go: The four ledger operations
  - policy.go: Batch consumption ordering
  - store.go: Persistence contract
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Decimal stock quantity
// =============================================================================

// Quantity is an amount of stock. Produce is weighed, so fractional
// quantities are valid; all arithmetic is decimal to avoid float drift.
type Quantity struct {
	Value decimal.Decimal
}

func NewQuantity(v float64) Quantity    { return Quantity{Value: decimal.NewFromFloat(v)} }
func NewQuantityFromInt(v int) Quantity { return Quantity{Value: decimal.NewFromInt(int64(v))} }
func ZeroQuantity() Quantity            { return Quantity{Value: decimal.Zero} }

func MustParseQuantity(s string) Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroQuantity()
	}
	return Quantity{Value: d}
}

func (q Quantity) Add(o Quantity) Quantity     { return Quantity{Value: q.Value.Add(o.Value)} }
func (q Quantity) Sub(o Quantity) Quantity     { return Quantity{Value: q.Value.Sub(o.Value)} }
func (q Quantity) Neg() Quantity               { return Quantity{Value: q.Value.Neg()} }
func (q Quantity) IsZero() bool                { return q.Value.IsZero() }
func (q Quantity) IsPositive() bool            { return q.Value.IsPositive() }
func (q Quantity) IsNegative() bool            { return q.Value.IsNegative() }
func (q Quantity) LessThan(o Quantity) bool    { return q.Value.LessThan(o.Value) }
func (q Quantity) GreaterThan(o Quantity) bool { return q.Value.GreaterThan(o.Value) }
func (q Quantity) Equal(o Quantity) bool       { return q.Value.Equal(o.Value) }
func (q Quantity) String() string              { return q.Value.String() }

func (q Quantity) Min(o Quantity) Quantity {
	if q.LessThan(o) {
		return q
	}
	return o
}

func (q Quantity) Max(o Quantity) Quantity {
	if q.GreaterThan(o) {
		return q
	}
	return o
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type LocationID string
type BatchID string
type TransactionID string

// =============================================================================
// ITEM / LOCATION - Reference data, immutable for ledger purposes
// =============================================================================

// Item is a trackable goods type.
type Item struct {
	ID   ItemID
	Name string
	Unit string // e.g. "kg", "crate"

	// ShelfLifeDays is the perishability horizon from receipt.
	// 0 means the item does not expire.
	ShelfLifeDays int
}

type LocationType string

const (
	LocationStorage LocationType = "storage"
	LocationShop    LocationType = "shop"
	LocationMobile  LocationType = "mobile"
)

// Location is a node in the network: warehouse, shop, or vehicle.
type Location struct {
	ID   LocationID
	Name string
	Type LocationType
}

// =============================================================================
// STOCK BATCH - A discrete receipt of an item at a location
// =============================================================================

type BatchStatus string

const (
	BatchAvailable BatchStatus = "available"
	BatchDepleted  BatchStatus = "depleted"
	BatchRejected  BatchStatus = "rejected"
)

// NeutralQuality is assigned to batches the system synthesizes itself
// (reconciliation corrections, loan returns) where no grading happened.
const NeutralQuality = 3

// StockBatch is a discrete receipt of an item at a location.
//
// INVARIANTS:
//   - Initial > 0 and never changes
//   - 0 <= Remaining <= Initial
//   - Remaining only decreases, except via an explicit adjust transaction
//   - Status == BatchDepleted iff Remaining == 0
//   - Batches are never deleted; depleted batches remain as audit trail
type StockBatch struct {
	ID         BatchID
	Item       ItemID
	Location   LocationID
	Initial    Quantity
	Remaining  Quantity
	Quality    int // ordinal grade, higher = better
	ReceivedAt time.Time
	Status     BatchStatus

	// Reason is set on synthesized batches (e.g. "auto-reconciliation").
	Reason string
}

// NewStockBatch validates invariants at construction time.
func NewStockBatch(id BatchID, item ItemID, location LocationID, qty Quantity, quality int, receivedAt time.Time) (StockBatch, error) {
	if !qty.IsPositive() {
		return StockBatch{}, &InvalidQuantityError{Op: "receive", Qty: qty}
	}
	return StockBatch{
		ID:         id,
		Item:       item,
		Location:   location,
		Initial:    qty,
		Remaining:  qty,
		Quality:    quality,
		ReceivedAt: receivedAt,
		Status:     BatchAvailable,
	}, nil
}

// IsConsumable reports whether the batch can supply a withdrawal.
func (b StockBatch) IsConsumable() bool {
	return b.Status == BatchAvailable && b.Remaining.IsPositive()
}

// ExpiresAt returns the perishability horizon, or zero time for
// non-perishable items.
func (b StockBatch) ExpiresAt(shelfLifeDays int) time.Time {
	if shelfLifeDays <= 0 {
		return time.Time{}
	}
	return b.ReceivedAt.AddDate(0, 0, shelfLifeDays)
}

// =============================================================================
// STOCK TRANSACTION - Append-only record of a single Engine call
// =============================================================================

type TransactionType string

const (
	TxReceive  TransactionType = "receive"
	TxWithdraw TransactionType = "withdraw"
	TxTransfer TransactionType = "transfer"
	TxAdjust   TransactionType = "adjust"
)

// BatchRef records how much of a transaction touched one batch.
type BatchRef struct {
	BatchID BatchID
	Qty     Quantity
}

// StockTransaction is an immutable record of exactly one Engine call.
// Transactions are never edited or deleted; corrections are new adjust
// transactions.
type StockTransaction struct {
	ID   TransactionID
	Type TransactionType
	Item ItemID
	Qty  Quantity

	// From is nil for receive; To is nil for withdraw.
	From *LocationID
	To   *LocationID

	// BatchesConsumed lists the batches decremented and the exact amount
	// taken from each. BatchesCreated lists batches this call created.
	BatchesConsumed []BatchRef
	BatchesCreated  []BatchRef

	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// STOCK BALANCE - Materialized projection, Engine-owned
// =============================================================================

// StockBalance is derived state: the sum of Remaining across all batches
// for a (location, item). The Engine is its only writer.
type StockBalance struct {
	Location  LocationID
	Item      ItemID
	OnHand    Quantity
	UpdatedAt time.Time
}

// =============================================================================
// BATCH TAKE - Result of a withdraw/transfer allocation
// =============================================================================

// BatchTake reports one batch consumed by a withdraw or transfer, with the
// exact amount taken from it.
type BatchTake struct {
	BatchID BatchID
	Qty     Quantity
}
