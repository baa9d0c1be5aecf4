package fulfillment

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory RequestStore + LoanStore for tests and dev.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[RequestID]Request
	loans    map[LoanID]Loan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[RequestID]Request),
		loans:    make(map[LoanID]Loan),
	}
}

func (m *MemoryStore) SaveRequest(_ context.Context, r Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id RequestID) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRequests(_ context.Context, status RequestStatus) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Request
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SaveLoan(_ context.Context, l Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[l.ID] = l
	return nil
}

func (m *MemoryStore) GetLoan(_ context.Context, id LoanID) (*Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &l, nil
}

func (m *MemoryStore) ListLoans(_ context.Context, status LoanStatus) ([]Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Loan
	for _, l := range m.loans {
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
