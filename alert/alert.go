// Package alert defines the structured events watchers emit.
// Delivery (email, chat, SMS) is an external collaborator's concern; this
// package only defines the event shape and the sink seam.
package alert

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	KindRequestEscalated Kind = "request_escalated"
	KindLowStock         Kind = "low_stock"
	KindLoanOverdue      Kind = "loan_overdue"
	KindBatchExpiring    Kind = "batch_expiring"
	KindReorderCreated   Kind = "reorder_created"
)

// Alert is a structured event emitted by a watcher.
type Alert struct {
	ID        string
	Kind      Kind
	Location  string
	Item      string
	EntityID  string
	Message   string
	CreatedAt time.Time
}

// Sink receives alerts. Implementations must be safe for concurrent use;
// watchers run on independent schedules.
type Sink interface {
	Emit(ctx context.Context, a Alert) error
}

// =============================================================================
// MEMORY SINK - Bounded in-process buffer, newest last
// =============================================================================

type MemorySink struct {
	mu     sync.Mutex
	alerts []Alert
	limit  int
}

// NewMemorySink keeps at most limit alerts (0 means 1000).
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 1000
	}
	return &MemorySink{limit: limit}
}

func (m *MemorySink) Emit(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.limit {
		m.alerts = m.alerts[len(m.alerts)-m.limit:]
	}
	return nil
}

// Recent returns up to n alerts, newest first.
func (m *MemorySink) Recent(n int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.alerts) {
		n = len(m.alerts)
	}
	out := make([]Alert, 0, n)
	for i := len(m.alerts) - 1; i >= len(m.alerts)-n; i-- {
		out = append(out, m.alerts[i])
	}
	return out
}
