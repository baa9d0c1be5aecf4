/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements stock.TxStore plus the request, loan, item, location, and
  reorder-threshold stores using SQLite. The same patterns apply to
  PostgreSQL; only minor SQL dialect differences.

KEY TABLES:
  stock_batches:      every receipt, including depleted ones (audit trail)
  stock_transactions: immutable, append-only ledger of engine calls
  stock_balance:      materialized per-(location, item) on-hand quantity
  requests, loans:    lifecycle entities the watchers drive
  items, locations:   reference data
  reorder_thresholds: watcher configuration

APPEND-ONLY ENFORCEMENT:
  stock_transactions has no UPDATE or DELETE path through this package.
  Batches are updated only in Remaining/Status, never deleted.

CONCURRENCY:
  WithTx serializes writers with a mutex on top of a database/sql
  transaction. SQLite is opened in WAL mode so readers don't block.
  In-transaction reads go through the sql.Tx itself, never back through
  the outer store.

QUANTITIES:
  Stored as decimal strings, parsed back through shopspring/decimal; no
  float round-trips.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/stock"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; WAL keeps readers unblocked
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and matches
	// SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stock_batches (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		initial_qty TEXT NOT NULL,
		remaining_qty TEXT NOT NULL,
		quality INTEGER NOT NULL,
		received_at TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_batches_location_item
		ON stock_batches(location_id, item_id);
	CREATE INDEX IF NOT EXISTS idx_batches_location_item_status
		ON stock_batches(location_id, item_id, status);

	-- Append-only ledger of engine calls. Never updated, never deleted.
	CREATE TABLE IF NOT EXISTS stock_transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		item_id TEXT NOT NULL,
		qty TEXT NOT NULL,
		location_from TEXT,
		location_to TEXT,
		batches_consumed TEXT,
		batches_created TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_item
		ON stock_transactions(item_id, created_at);

	CREATE TABLE IF NOT EXISTS stock_balance (
		location_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		on_hand_qty TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (location_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		shelf_life_days INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		loc_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reorder_thresholds (
		location_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		threshold_qty TEXT NOT NULL,
		auto_reorder INTEGER NOT NULL DEFAULT 0,
		reorder_qty TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (location_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		qty TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		escalated_at TEXT,
		resolved_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status, created_at);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		borrower TEXT NOT NULL,
		qty TEXT NOT NULL,
		status TEXT NOT NULL,
		due_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		picked_up_at TEXT,
		returned_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status, due_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// queryer abstracts over *sql.DB and *sql.Tx so the same helpers serve
// both direct calls and WithTx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STOCK STORE (stock.Store interface)
// =============================================================================

func (s *Store) InsertBatch(ctx context.Context, b stock.StockBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBatch(ctx, s.db, b)
}

func insertBatch(ctx context.Context, q queryer, b stock.StockBatch) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_batches
		(id, item_id, location_id, initial_qty, remaining_qty, quality, received_at, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Item, b.Location,
		b.Initial.String(), b.Remaining.String(), b.Quality,
		formatTime(b.ReceivedAt), b.Status, b.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *Store) UpdateBatch(ctx context.Context, b stock.StockBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBatch(ctx, s.db, b)
}

func updateBatch(ctx context.Context, q queryer, b stock.StockBatch) error {
	// Only the mutable fields. Identity, initial quantity, quality, and
	// receipt time never change after insert.
	res, err := q.ExecContext(ctx, `
		UPDATE stock_batches SET remaining_qty = ?, status = ? WHERE id = ?`,
		b.Remaining.String(), b.Status, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return stock.ErrBatchNotFound
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id stock.BatchID) (*stock.StockBatch, error) {
	return getBatch(ctx, s.db, id)
}

func getBatch(ctx context.Context, q queryer, id stock.BatchID) (*stock.StockBatch, error) {
	batches, err := queryBatches(ctx, q, `
		SELECT id, item_id, location_id, initial_qty, remaining_qty, quality, received_at, status, reason
		FROM stock_batches WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, stock.ErrBatchNotFound
	}
	return &batches[0], nil
}

func (s *Store) BatchesAt(ctx context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	return batchesAt(ctx, s.db, location, item, false)
}

func (s *Store) AllBatchesAt(ctx context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	return batchesAt(ctx, s.db, location, item, true)
}

func batchesAt(ctx context.Context, q queryer, location stock.LocationID, item stock.ItemID, includeDepleted bool) ([]stock.StockBatch, error) {
	query := `
		SELECT id, item_id, location_id, initial_qty, remaining_qty, quality, received_at, status, reason
		FROM stock_batches
		WHERE location_id = ? AND item_id = ?`
	if !includeDepleted {
		query += ` AND status != 'depleted'`
	}
	query += ` ORDER BY received_at ASC, id ASC`
	return queryBatches(ctx, q, query, location, item)
}

func queryBatches(ctx context.Context, q queryer, query string, args ...any) ([]stock.StockBatch, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []stock.StockBatch
	for rows.Next() {
		var (
			b          stock.StockBatch
			initial    string
			remaining  string
			receivedAt string
			reason     sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Item, &b.Location, &initial, &remaining, &b.Quality, &receivedAt, &b.Status, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.Initial = stock.MustParseQuantity(initial)
		b.Remaining = stock.MustParseQuantity(remaining)
		b.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		b.Reason = reason.String
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *Store) AppendTransaction(ctx context.Context, tx stock.StockTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, q queryer, tx stock.StockTransaction) error {
	consumed, _ := json.Marshal(tx.BatchesConsumed)
	created, _ := json.Marshal(tx.BatchesCreated)

	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_transactions
		(id, tx_type, item_id, qty, location_from, location_to, batches_consumed, batches_created, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Type, tx.Item, tx.Qty.String(),
		locationPtr(tx.From), locationPtr(tx.To),
		string(consumed), string(created), tx.Reason,
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) TransactionsForItem(ctx context.Context, item stock.ItemID) ([]stock.StockTransaction, error) {
	return transactionsForItem(ctx, s.db, item)
}

func transactionsForItem(ctx context.Context, q queryer, item stock.ItemID) ([]stock.StockTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tx_type, item_id, qty, location_from, location_to, batches_consumed, batches_created, reason, created_at
		FROM stock_transactions
		WHERE item_id = ?
		ORDER BY created_at ASC, id ASC`, item)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []stock.StockTransaction
	for rows.Next() {
		var (
			tx        stock.StockTransaction
			qty       string
			from      sql.NullString
			to        sql.NullString
			consumed  sql.NullString
			created   sql.NullString
			reason    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.Type, &tx.Item, &qty, &from, &to, &consumed, &created, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Qty = stock.MustParseQuantity(qty)
		if from.Valid {
			loc := stock.LocationID(from.String)
			tx.From = &loc
		}
		if to.Valid {
			loc := stock.LocationID(to.String)
			tx.To = &loc
		}
		if consumed.Valid && consumed.String != "" && consumed.String != "null" {
			json.Unmarshal([]byte(consumed.String), &tx.BatchesConsumed)
		}
		if created.Valid && created.String != "" && created.String != "null" {
			json.Unmarshal([]byte(created.String), &tx.BatchesCreated)
		}
		tx.Reason = reason.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) Balance(ctx context.Context, location stock.LocationID, item stock.ItemID) (stock.Quantity, error) {
	return balance(ctx, s.db, location, item)
}

func balance(ctx context.Context, q queryer, location stock.LocationID, item stock.ItemID) (stock.Quantity, error) {
	var onHand string
	err := q.QueryRowContext(ctx,
		`SELECT on_hand_qty FROM stock_balance WHERE location_id = ? AND item_id = ?`,
		location, item,
	).Scan(&onHand)
	if err == sql.ErrNoRows {
		return stock.ZeroQuantity(), nil
	}
	if err != nil {
		return stock.Quantity{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return stock.MustParseQuantity(onHand), nil
}

func (s *Store) SetBalance(ctx context.Context, location stock.LocationID, item stock.ItemID, qty stock.Quantity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBalance(ctx, s.db, location, item, qty)
}

func setBalance(ctx context.Context, q queryer, location stock.LocationID, item stock.ItemID, qty stock.Quantity) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_balance (location_id, item_id, on_hand_qty, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(location_id, item_id) DO UPDATE SET on_hand_qty = excluded.on_hand_qty, updated_at = excluded.updated_at`,
		location, item, qty.String(), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

func (s *Store) Balances(ctx context.Context) ([]stock.StockBalance, error) {
	return balances(ctx, s.db)
}

func balances(ctx context.Context, q queryer) ([]stock.StockBalance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT location_id, item_id, on_hand_qty, updated_at
		FROM stock_balance
		ORDER BY location_id ASC, item_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []stock.StockBalance
	for rows.Next() {
		var (
			bal       stock.StockBalance
			onHand    string
			updatedAt string
		)
		if err := rows.Scan(&bal.Location, &bal.Item, &onHand, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		bal.OnHand = stock.MustParseQuantity(onHand)
		bal.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		if bal.OnHand.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. All reads and writes
// made through the passed Store go through the same sql.Tx, so the engine
// sees a consistent snapshot and commits atomically.
func (s *Store) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txView routes every Store call through the open sql.Tx.
type txView struct {
	tx *sql.Tx
}

func (tv *txView) InsertBatch(ctx context.Context, b stock.StockBatch) error {
	return insertBatch(ctx, tv.tx, b)
}

func (tv *txView) UpdateBatch(ctx context.Context, b stock.StockBatch) error {
	return updateBatch(ctx, tv.tx, b)
}

func (tv *txView) GetBatch(ctx context.Context, id stock.BatchID) (*stock.StockBatch, error) {
	return getBatch(ctx, tv.tx, id)
}

func (tv *txView) BatchesAt(ctx context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	return batchesAt(ctx, tv.tx, location, item, false)
}

func (tv *txView) AllBatchesAt(ctx context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	return batchesAt(ctx, tv.tx, location, item, true)
}

func (tv *txView) AppendTransaction(ctx context.Context, tx stock.StockTransaction) error {
	return appendTransaction(ctx, tv.tx, tx)
}

func (tv *txView) TransactionsForItem(ctx context.Context, item stock.ItemID) ([]stock.StockTransaction, error) {
	return transactionsForItem(ctx, tv.tx, item)
}

func (tv *txView) Balance(ctx context.Context, location stock.LocationID, item stock.ItemID) (stock.Quantity, error) {
	return balance(ctx, tv.tx, location, item)
}

func (tv *txView) SetBalance(ctx context.Context, location stock.LocationID, item stock.ItemID, qty stock.Quantity) error {
	return setBalance(ctx, tv.tx, location, item, qty)
}

func (tv *txView) Balances(ctx context.Context) ([]stock.StockBalance, error) {
	return balances(ctx, tv.tx)
}

// =============================================================================
// ITEMS / LOCATIONS / THRESHOLDS - Reference data
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, it stock.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, unit, shelf_life_days) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, unit = excluded.unit, shelf_life_days = excluded.shelf_life_days`,
		it.ID, it.Name, it.Unit, it.ShelfLifeDays,
	)
	return err
}

func (s *Store) Items(ctx context.Context) ([]stock.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, unit, shelf_life_days FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stock.Item
	for rows.Next() {
		var it stock.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Unit, &it.ShelfLifeDays); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) SaveLocation(ctx context.Context, loc stock.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, name, loc_type) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, loc_type = excluded.loc_type`,
		loc.ID, loc.Name, loc.Type,
	)
	return err
}

func (s *Store) Locations(ctx context.Context) ([]stock.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, loc_type FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stock.Location
	for rows.Next() {
		var loc stock.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Type); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *Store) SaveThreshold(ctx context.Context, t stock.ReorderThreshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reorder_thresholds (location_id, item_id, threshold_qty, auto_reorder, reorder_qty)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(location_id, item_id) DO UPDATE SET
			threshold_qty = excluded.threshold_qty,
			auto_reorder = excluded.auto_reorder,
			reorder_qty = excluded.reorder_qty`,
		t.Location, t.Item, t.Threshold.String(), boolInt(t.AutoReorder), t.ReorderQty.String(),
	)
	return err
}

func (s *Store) Thresholds(ctx context.Context) ([]stock.ReorderThreshold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT location_id, item_id, threshold_qty, auto_reorder, reorder_qty
		FROM reorder_thresholds ORDER BY location_id, item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stock.ReorderThreshold
	for rows.Next() {
		var (
			t         stock.ReorderThreshold
			threshold string
			auto      int
			reorder   string
		)
		if err := rows.Scan(&t.Location, &t.Item, &threshold, &auto, &reorder); err != nil {
			return nil, err
		}
		t.Threshold = stock.MustParseQuantity(threshold)
		t.AutoReorder = auto != 0
		t.ReorderQty = stock.MustParseQuantity(reorder)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUEST STORE (fulfillment.RequestStore interface)
// =============================================================================

func (s *Store) SaveRequest(ctx context.Context, r fulfillment.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, item_id, location_id, qty, status, reason, created_at, escalated_at, resolved_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			escalated_at = excluded.escalated_at,
			resolved_at = excluded.resolved_at,
			updated_at = excluded.updated_at`,
		r.ID, r.Item, r.Location, r.Qty.String(), r.Status, r.Reason,
		formatTime(r.CreatedAt), formatTimePtr(r.EscalatedAt), formatTimePtr(r.ResolvedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id fulfillment.RequestID) (*fulfillment.Request, error) {
	reqs, err := s.queryRequests(ctx, `
		SELECT id, item_id, location_id, qty, status, reason, created_at, escalated_at, resolved_at, updated_at
		FROM requests WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, fulfillment.ErrRequestNotFound
	}
	return &reqs[0], nil
}

func (s *Store) ListRequests(ctx context.Context, status fulfillment.RequestStatus) ([]fulfillment.Request, error) {
	if status == "" {
		return s.queryRequests(ctx, `
			SELECT id, item_id, location_id, qty, status, reason, created_at, escalated_at, resolved_at, updated_at
			FROM requests ORDER BY created_at ASC`)
	}
	return s.queryRequests(ctx, `
		SELECT id, item_id, location_id, qty, status, reason, created_at, escalated_at, resolved_at, updated_at
		FROM requests WHERE status = ? ORDER BY created_at ASC`, status)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]fulfillment.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []fulfillment.Request
	for rows.Next() {
		var (
			r           fulfillment.Request
			qty         string
			reason      sql.NullString
			createdAt   string
			escalatedAt sql.NullString
			resolvedAt  sql.NullString
			updatedAt   string
		)
		if err := rows.Scan(&r.ID, &r.Item, &r.Location, &qty, &r.Status, &reason, &createdAt, &escalatedAt, &resolvedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.Qty = stock.MustParseQuantity(qty)
		r.Reason = reason.String
		r.CreatedAt = parseTime(createdAt)
		r.EscalatedAt = parseTimePtr(escalatedAt)
		r.ResolvedAt = parseTimePtr(resolvedAt)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// LOAN STORE (fulfillment.LoanStore interface)
// =============================================================================

func (s *Store) SaveLoan(ctx context.Context, l fulfillment.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (id, item_id, location_id, borrower, qty, status, due_at, created_at, picked_up_at, returned_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			picked_up_at = excluded.picked_up_at,
			returned_at = excluded.returned_at,
			updated_at = excluded.updated_at`,
		l.ID, l.Item, l.Location, l.Borrower, l.Qty.String(), l.Status,
		formatTime(l.DueAt), formatTime(l.CreatedAt),
		formatTimePtr(l.PickedUpAt), formatTimePtr(l.ReturnedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id fulfillment.LoanID) (*fulfillment.Loan, error) {
	loans, err := s.queryLoans(ctx, `
		SELECT id, item_id, location_id, borrower, qty, status, due_at, created_at, picked_up_at, returned_at, updated_at
		FROM loans WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, fulfillment.ErrLoanNotFound
	}
	return &loans[0], nil
}

func (s *Store) ListLoans(ctx context.Context, status fulfillment.LoanStatus) ([]fulfillment.Loan, error) {
	if status == "" {
		return s.queryLoans(ctx, `
			SELECT id, item_id, location_id, borrower, qty, status, due_at, created_at, picked_up_at, returned_at, updated_at
			FROM loans ORDER BY created_at ASC`)
	}
	return s.queryLoans(ctx, `
		SELECT id, item_id, location_id, borrower, qty, status, due_at, created_at, picked_up_at, returned_at, updated_at
		FROM loans WHERE status = ? ORDER BY created_at ASC`, status)
}

func (s *Store) queryLoans(ctx context.Context, query string, args ...any) ([]fulfillment.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var out []fulfillment.Loan
	for rows.Next() {
		var (
			l          fulfillment.Loan
			qty        string
			dueAt      string
			createdAt  string
			pickedUpAt sql.NullString
			returnedAt sql.NullString
			updatedAt  string
		)
		if err := rows.Scan(&l.ID, &l.Item, &l.Location, &l.Borrower, &qty, &l.Status, &dueAt, &createdAt, &pickedUpAt, &returnedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		l.Qty = stock.MustParseQuantity(qty)
		l.DueAt = parseTime(dueAt)
		l.CreatedAt = parseTime(createdAt)
		l.PickedUpAt = parseTimePtr(pickedUpAt)
		l.ReturnedAt = parseTimePtr(returnedAt)
		l.UpdatedAt = parseTime(updatedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func locationPtr(l *stock.LocationID) any {
	if l == nil {
		return nil
	}
	return string(*l)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeFormat keeps a fixed-width fractional-second field so that the TEXT
// columns sort lexicographically in chronological order. RFC3339Nano
// trims trailing zeros, which puts "...00.5Z" before "...00Z".
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
