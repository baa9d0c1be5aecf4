/*
watchers.go - The five scheduled watchers

PURPOSE:
  Each watcher is a query+action pair over ledger and lifecycle state:
  scan, decide, transition/emit, log counts. Watchers hold no state
  between runs except the low-stock breach set used for alert
  deduplication.

SCHEDULES:
  escalation    hourly        stale pending requests -> escalated + alert
  low-stock     every 15 min  balances vs thresholds, deduplicated alerts
  overdue-loan  hourly        loans past due -> overdue + reminder alerts
  expiry        daily 06:00   digest of batches nearing/past shelf life
  auto-reorder  daily 08:00   replenishment requests for enabled pairs
*/
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moeketsims/stocktracking-sub001/alert"
	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/stock"
)

// ThresholdSource supplies reorder thresholds to the low-stock and
// auto-reorder watchers.
type ThresholdSource interface {
	Thresholds(ctx context.Context) ([]stock.ReorderThreshold, error)
}

// ItemSource supplies the item catalog (shelf lives) to the expiry watcher.
type ItemSource interface {
	Items(ctx context.Context) ([]stock.Item, error)
}

// Watchers bundles the collaborators the five watcher jobs share.
type Watchers struct {
	Stock        stock.Store
	Requests     *fulfillment.RequestService
	RequestStore fulfillment.RequestStore
	Loans        *fulfillment.LoanService
	LoanStore    fulfillment.LoanStore
	Thresholds   ThresholdSource
	Items        ItemSource
	Sink         alert.Sink

	// EscalationAge is how long a request may stay pending before the
	// escalation watcher promotes it. Default 24h.
	EscalationAge time.Duration

	// ExpiryWarning is how far ahead of the shelf-life horizon the expiry
	// watcher starts including batches in the digest. Default 48h.
	ExpiryWarning time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	// Open low-stock breaches, for alert deduplication. A breach re-alerts
	// only after the balance has recovered above threshold in between.
	breachMu sync.Mutex
	breached map[string]bool
}

func (w *Watchers) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Watchers) escalationAge() time.Duration {
	if w.EscalationAge > 0 {
		return w.EscalationAge
	}
	return 24 * time.Hour
}

func (w *Watchers) expiryWarning() time.Duration {
	if w.ExpiryWarning > 0 {
		return w.ExpiryWarning
	}
	return 48 * time.Hour
}

// RegisterAll registers the five watcher jobs on their default schedules.
func (w *Watchers) RegisterAll(s *Scheduler) {
	s.Register(Job{ID: "escalation", Trigger: Every(time.Hour), Run: w.RunEscalation})
	s.Register(Job{ID: "low-stock", Trigger: Every(15 * time.Minute), Run: w.RunLowStock})
	s.Register(Job{ID: "overdue-loan", Trigger: Every(time.Hour), Run: w.RunOverdueLoans})
	s.Register(Job{ID: "expiry", Trigger: DailyAt(6, 0), Run: w.RunExpiry})
	s.Register(Job{ID: "auto-reorder", Trigger: DailyAt(8, 0), Run: w.RunAutoReorder})
}

// =============================================================================
// ESCALATION WATCHER
// =============================================================================

// RunEscalation promotes pending requests older than the escalation age
// and emits one alert per promotion.
func (w *Watchers) RunEscalation(ctx context.Context) error {
	pending, err := w.RequestStore.ListRequests(ctx, fulfillment.RequestPending)
	if err != nil {
		return err
	}

	cutoff := w.now().Add(-w.escalationAge())
	escalated := 0
	for _, r := range pending {
		if r.CreatedAt.After(cutoff) {
			continue
		}
		if _, err := w.Requests.Escalate(ctx, r.ID); err != nil {
			log.Printf("[Watcher] escalation: request %s: %v", r.ID, err)
			continue
		}
		w.emit(ctx, alert.Alert{
			Kind:     alert.KindRequestEscalated,
			Location: string(r.Location),
			Item:     string(r.Item),
			EntityID: string(r.ID),
			Message:  fmt.Sprintf("request for %s %s at %s pending since %s", r.Qty, r.Item, r.Location, r.CreatedAt.Format(time.RFC3339)),
		})
		escalated++
	}

	if escalated > 0 {
		log.Printf("[Watcher] escalation: %d requests escalated", escalated)
	}
	return nil
}

// =============================================================================
// LOW-STOCK WATCHER
// =============================================================================

// RunLowStock compares balances against reorder thresholds. A breach
// alerts once; it can alert again only after the balance recovers above
// the threshold.
func (w *Watchers) RunLowStock(ctx context.Context) error {
	thresholds, err := w.Thresholds.Thresholds(ctx)
	if err != nil {
		return err
	}

	w.breachMu.Lock()
	defer w.breachMu.Unlock()
	if w.breached == nil {
		w.breached = make(map[string]bool)
	}

	alerted := 0
	for _, t := range thresholds {
		onHand, err := w.Stock.Balance(ctx, t.Location, t.Item)
		if err != nil {
			log.Printf("[Watcher] low-stock: balance %s/%s: %v", t.Location, t.Item, err)
			continue
		}
		key := string(t.Location) + "/" + string(t.Item)

		if !t.Breached(onHand) {
			delete(w.breached, key)
			continue
		}
		if w.breached[key] {
			continue // already alerted for this breach
		}
		w.breached[key] = true
		w.emit(ctx, alert.Alert{
			Kind:     alert.KindLowStock,
			Location: string(t.Location),
			Item:     string(t.Item),
			Message:  fmt.Sprintf("on hand %s at or below threshold %s", onHand, t.Threshold),
		})
		alerted++
	}

	if alerted > 0 {
		log.Printf("[Watcher] low-stock: %d new breaches", alerted)
	}
	return nil
}

// =============================================================================
// OVERDUE-LOAN WATCHER
// =============================================================================

// RunOverdueLoans flags picked-up loans past their due date and emits a
// reminder for every loan still outstanding past due.
func (w *Watchers) RunOverdueLoans(ctx context.Context) error {
	now := w.now()

	pickedUp, err := w.LoanStore.ListLoans(ctx, fulfillment.LoanPickedUp)
	if err != nil {
		return err
	}
	reminded := make(map[fulfillment.LoanID]bool)
	for _, l := range pickedUp {
		if l.DueAt.After(now) {
			continue
		}
		if _, err := w.Loans.MarkOverdue(ctx, l.ID); err != nil {
			log.Printf("[Watcher] overdue-loan: loan %s: %v", l.ID, err)
			continue
		}
		w.remindOverdue(ctx, l, now)
		reminded[l.ID] = true
	}

	// Loans already marked overdue get a reminder every run until returned.
	// A loan just marked above would show up in this listing too; one
	// reminder per run is enough.
	overdue, err := w.LoanStore.ListLoans(ctx, fulfillment.LoanOverdue)
	if err != nil {
		return err
	}
	for _, l := range overdue {
		if reminded[l.ID] {
			continue
		}
		w.remindOverdue(ctx, l, now)
	}
	return nil
}

func (w *Watchers) remindOverdue(ctx context.Context, l fulfillment.Loan, now time.Time) {
	w.emit(ctx, alert.Alert{
		Kind:     alert.KindLoanOverdue,
		Location: string(l.Location),
		Item:     string(l.Item),
		EntityID: string(l.ID),
		Message: fmt.Sprintf("loan of %s %s to %s due %s (%s overdue)",
			l.Qty, l.Item, l.Borrower, l.DueAt.Format("2006-01-02"), now.Sub(l.DueAt).Round(time.Hour)),
	})
}

// =============================================================================
// EXPIRY WATCHER
// =============================================================================

// RunExpiry scans batches of perishable items nearing or past their
// shelf-life horizon and emits a single digest alert.
func (w *Watchers) RunExpiry(ctx context.Context) error {
	items, err := w.Items.Items(ctx)
	if err != nil {
		return err
	}
	shelfLife := make(map[stock.ItemID]int)
	for _, it := range items {
		if it.ShelfLifeDays > 0 {
			shelfLife[it.ID] = it.ShelfLifeDays
		}
	}
	if len(shelfLife) == 0 {
		return nil
	}

	balances, err := w.Stock.Balances(ctx)
	if err != nil {
		return err
	}

	now := w.now()
	horizon := now.Add(w.expiryWarning())
	var lines []string
	for _, bal := range balances {
		days, ok := shelfLife[bal.Item]
		if !ok {
			continue
		}
		batches, err := w.Stock.BatchesAt(ctx, bal.Location, bal.Item)
		if err != nil {
			log.Printf("[Watcher] expiry: batches %s/%s: %v", bal.Location, bal.Item, err)
			continue
		}
		for _, b := range batches {
			expires := b.ExpiresAt(days)
			if expires.After(horizon) {
				continue
			}
			state := "expires"
			if !expires.After(now) {
				state = "expired"
			}
			lines = append(lines, fmt.Sprintf("%s %s at %s (batch %s) %s %s",
				b.Remaining, b.Item, b.Location, b.ID, state, expires.Format("2006-01-02")))
		}
	}

	if len(lines) == 0 {
		return nil
	}
	w.emit(ctx, alert.Alert{
		Kind:    alert.KindBatchExpiring,
		Message: fmt.Sprintf("%d batches nearing or past shelf life:\n%s", len(lines), strings.Join(lines, "\n")),
	})
	log.Printf("[Watcher] expiry: %d batches in digest", len(lines))
	return nil
}

// =============================================================================
// AUTO-REORDER WATCHER
// =============================================================================

// RunAutoReorder creates a replenishment request for every auto-reorder
// pair below threshold that does not already have an open request.
func (w *Watchers) RunAutoReorder(ctx context.Context) error {
	thresholds, err := w.Thresholds.Thresholds(ctx)
	if err != nil {
		return err
	}

	open, err := w.openRequestPairs(ctx)
	if err != nil {
		return err
	}

	created := 0
	for _, t := range thresholds {
		if !t.AutoReorder {
			continue
		}
		onHand, err := w.Stock.Balance(ctx, t.Location, t.Item)
		if err != nil {
			log.Printf("[Watcher] auto-reorder: balance %s/%s: %v", t.Location, t.Item, err)
			continue
		}
		if !t.Breached(onHand) {
			continue
		}
		key := string(t.Location) + "/" + string(t.Item)
		if open[key] {
			continue // an open request already covers this pair
		}

		qty := t.ReorderQty
		if !qty.IsPositive() {
			qty = t.Threshold
		}
		r, err := w.Requests.Create(ctx, t.Item, t.Location, qty, "auto-reorder")
		if err != nil {
			log.Printf("[Watcher] auto-reorder: create request %s/%s: %v", t.Location, t.Item, err)
			continue
		}
		w.emit(ctx, alert.Alert{
			Kind:     alert.KindReorderCreated,
			Location: string(t.Location),
			Item:     string(t.Item),
			EntityID: string(r.ID),
			Message:  fmt.Sprintf("auto-reorder of %s %s for %s (on hand %s)", qty, t.Item, t.Location, onHand),
		})
		created++
	}

	if created > 0 {
		log.Printf("[Watcher] auto-reorder: %d requests created", created)
	}
	return nil
}

func (w *Watchers) openRequestPairs(ctx context.Context) (map[string]bool, error) {
	open := make(map[string]bool)
	for _, status := range []fulfillment.RequestStatus{fulfillment.RequestPending, fulfillment.RequestEscalated} {
		reqs, err := w.RequestStore.ListRequests(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			open[string(r.Location)+"/"+string(r.Item)] = true
		}
	}
	return open, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (w *Watchers) emit(ctx context.Context, a alert.Alert) {
	a.ID = uuid.NewString()
	a.CreatedAt = w.now()
	if err := w.Sink.Emit(ctx, a); err != nil {
		log.Printf("[Watcher] emit %s: %v", a.Kind, err)
	}
}
