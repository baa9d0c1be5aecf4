// Package store provides stock.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moeketsims/stocktracking-sub001/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	batches      map[stock.BatchID]stock.StockBatch
	balances     map[balanceKey]stock.StockBalance
	transactions []stock.StockTransaction
}

type balanceKey struct {
	Location stock.LocationID
	Item     stock.ItemID
}

func NewMemory() *Memory {
	return &Memory{
		batches:  make(map[stock.BatchID]stock.StockBatch),
		balances: make(map[balanceKey]stock.StockBalance),
	}
}

func (m *Memory) InsertBatch(_ context.Context, b stock.StockBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBatchLocked(b)
}

func (m *Memory) insertBatchLocked(b stock.StockBatch) error {
	if _, ok := m.batches[b.ID]; ok {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) UpdateBatch(_ context.Context, b stock.StockBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBatchLocked(b)
}

func (m *Memory) updateBatchLocked(b stock.StockBatch) error {
	if _, ok := m.batches[b.ID]; !ok {
		return stock.ErrBatchNotFound
	}
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id stock.BatchID) (*stock.StockBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBatchLocked(id)
}

func (m *Memory) getBatchLocked(id stock.BatchID) (*stock.StockBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, stock.ErrBatchNotFound
	}
	return &b, nil
}

func (m *Memory) BatchesAt(_ context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchesAtLocked(location, item, false), nil
}

func (m *Memory) AllBatchesAt(_ context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchesAtLocked(location, item, true), nil
}

func (m *Memory) batchesAtLocked(location stock.LocationID, item stock.ItemID, includeDepleted bool) []stock.StockBatch {
	var out []stock.StockBatch
	for _, b := range m.batches {
		if b.Location != location || b.Item != item {
			continue
		}
		if !includeDepleted && b.Status == stock.BatchDepleted {
			continue
		}
		out = append(out, b)
	}
	// Deterministic order for callers that iterate.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) AppendTransaction(_ context.Context, tx stock.StockTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) TransactionsForItem(_ context.Context, item stock.ItemID) ([]stock.StockTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []stock.StockTransaction
	for _, tx := range m.transactions {
		if tx.Item == item {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *Memory) Balance(_ context.Context, location stock.LocationID, item stock.ItemID) (stock.Quantity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(location, item), nil
}

func (m *Memory) balanceLocked(location stock.LocationID, item stock.ItemID) stock.Quantity {
	if bal, ok := m.balances[balanceKey{Location: location, Item: item}]; ok {
		return bal.OnHand
	}
	return stock.ZeroQuantity()
}

func (m *Memory) SetBalance(_ context.Context, location stock.LocationID, item stock.ItemID, qty stock.Quantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBalanceLocked(location, item, qty)
	return nil
}

func (m *Memory) setBalanceLocked(location stock.LocationID, item stock.ItemID, qty stock.Quantity) {
	m.balances[balanceKey{Location: location, Item: item}] = stock.StockBalance{
		Location:  location,
		Item:      item,
		OnHand:    qty,
		UpdatedAt: time.Now(),
	}
}

func (m *Memory) Balances(_ context.Context) ([]stock.StockBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []stock.StockBalance
	for _, bal := range m.balances {
		if !bal.OnHand.IsZero() {
			out = append(out, bal)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Item < out[j].Item
	})
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
	txMu sync.Mutex
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction, simulated with a snapshot and
// rollback on error. Transactions are fully serialized, which gives the
// engine the isolation level its plan/apply split requires.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	tm.txMu.Lock()
	defer tm.txMu.Unlock()
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	batches      map[stock.BatchID]stock.StockBatch
	balances     map[balanceKey]stock.StockBalance
	transactions []stock.StockTransaction
}

func (tm *TxMemory) snapshot() memorySnapshot {
	batches := make(map[stock.BatchID]stock.StockBatch, len(tm.batches))
	for k, v := range tm.batches {
		batches[k] = v
	}
	balances := make(map[balanceKey]stock.StockBalance, len(tm.balances))
	for k, v := range tm.balances {
		balances[k] = v
	}
	return memorySnapshot{
		batches:      batches,
		balances:     balances,
		transactions: append([]stock.StockTransaction{}, tm.transactions...),
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.batches = s.batches
	tm.balances = s.balances
	tm.transactions = s.transactions
}

// txMemoryView gives fn direct access to the already-locked parent state.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) InsertBatch(_ context.Context, b stock.StockBatch) error {
	return tv.parent.insertBatchLocked(b)
}

func (tv *txMemoryView) UpdateBatch(_ context.Context, b stock.StockBatch) error {
	return tv.parent.updateBatchLocked(b)
}

func (tv *txMemoryView) GetBatch(_ context.Context, id stock.BatchID) (*stock.StockBatch, error) {
	return tv.parent.getBatchLocked(id)
}

func (tv *txMemoryView) BatchesAt(_ context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	return tv.parent.batchesAtLocked(location, item, false), nil
}

func (tv *txMemoryView) AllBatchesAt(_ context.Context, location stock.LocationID, item stock.ItemID) ([]stock.StockBatch, error) {
	return tv.parent.batchesAtLocked(location, item, true), nil
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx stock.StockTransaction) error {
	tv.parent.transactions = append(tv.parent.transactions, tx)
	return nil
}

func (tv *txMemoryView) TransactionsForItem(_ context.Context, item stock.ItemID) ([]stock.StockTransaction, error) {
	var out []stock.StockTransaction
	for _, tx := range tv.parent.transactions {
		if tx.Item == item {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (tv *txMemoryView) Balance(_ context.Context, location stock.LocationID, item stock.ItemID) (stock.Quantity, error) {
	return tv.parent.balanceLocked(location, item), nil
}

func (tv *txMemoryView) SetBalance(_ context.Context, location stock.LocationID, item stock.ItemID, qty stock.Quantity) error {
	tv.parent.setBalanceLocked(location, item, qty)
	return nil
}

func (tv *txMemoryView) Balances(_ context.Context) ([]stock.StockBalance, error) {
	var out []stock.StockBalance
	for _, bal := range tv.parent.balances {
		if !bal.OnHand.IsZero() {
			out = append(out, bal)
		}
	}
	return out, nil
}
