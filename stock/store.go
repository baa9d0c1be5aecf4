/*
store.go - Persistence contract for the stock ledger

PURPOSE:
  Defines the interface between the ledger engine and the database.
  Different implementations can use SQLite or in-memory storage; the
  engine's correctness guarantees are stated against this contract.

KEY INTERFACES:
  Store:   Batch, transaction, and balance persistence
  TxStore: Store plus WithTx for atomic multi-write operations

APPEND-ONLY TRANSACTIONS:
  stock_transactions is append-only. The contract exposes
  AppendTransaction and read methods; there is no update or delete.
  Corrections are new adjust transactions.

ATOMICITY:
  The engine's apply phase always runs inside WithTx. The store-level
  transaction (serializable or equivalent), not application logic, is
  what prevents two concurrent withdrawals from both observing sufficient
  stock and jointly over-withdrawing.

IMPLEMENTATIONS:
  - stock/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: durable SQLite
*/
package stock

import "context"

// =============================================================================
// STORE - Batch, transaction, and balance persistence
// =============================================================================

// Store persists ledger state. The Engine is the only writer of all three
// tables (batches, transactions, balances).
type Store interface {
	// InsertBatch persists a new batch.
	InsertBatch(ctx context.Context, b StockBatch) error

	// UpdateBatch persists a batch's mutated Remaining/Status. Initial,
	// ReceivedAt, Quality and identity fields never change.
	UpdateBatch(ctx context.Context, b StockBatch) error

	// GetBatch returns a batch by id, or ErrBatchNotFound.
	GetBatch(ctx context.Context, id BatchID) (*StockBatch, error)

	// BatchesAt returns all non-depleted batches for (location, item).
	BatchesAt(ctx context.Context, location LocationID, item ItemID) ([]StockBatch, error)

	// AllBatchesAt returns every batch for (location, item), including
	// depleted ones (audit trail).
	AllBatchesAt(ctx context.Context, location LocationID, item ItemID) ([]StockBatch, error)

	// AppendTransaction appends to the immutable transaction log.
	AppendTransaction(ctx context.Context, tx StockTransaction) error

	// TransactionsForItem returns the transaction log for an item,
	// oldest first.
	TransactionsForItem(ctx context.Context, item ItemID) ([]StockTransaction, error)

	// Balance returns the materialized balance for (location, item).
	// A pair that has never held stock reads as zero.
	Balance(ctx context.Context, location LocationID, item ItemID) (Quantity, error)

	// SetBalance writes the materialized balance for (location, item).
	SetBalance(ctx context.Context, location LocationID, item ItemID, qty Quantity) error

	// Balances returns every balance row with a nonzero on-hand quantity.
	Balances(ctx context.Context) ([]StockBalance, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
// The Engine requires a TxStore; every apply phase runs within WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a store transaction.
	// If fn returns an error, all writes made through the passed Store are
	// rolled back; otherwise they commit atomically.
	WithTx(ctx context.Context, fn func(Store) error) error
}
