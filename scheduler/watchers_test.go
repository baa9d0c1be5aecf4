package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/moeketsims/stocktracking-sub001/alert"
	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/scheduler"
	"github.com/moeketsims/stocktracking-sub001/stock"
	"github.com/moeketsims/stocktracking-sub001/stock/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

const (
	itemEggs  = stock.ItemID("eggs")
	locMarket = stock.LocationID("market")
)

type stubThresholds struct {
	ts []stock.ReorderThreshold
}

func (s *stubThresholds) Thresholds(context.Context) ([]stock.ReorderThreshold, error) {
	return s.ts, nil
}

type stubItems struct {
	items []stock.Item
}

func (s *stubItems) Items(context.Context) ([]stock.Item, error) {
	return s.items, nil
}

type fixture struct {
	mem      *store.TxMemory
	fstore   *fulfillment.MemoryStore
	requests *fulfillment.RequestService
	loans    *fulfillment.LoanService
	sink     *alert.MemorySink

	thresholds *stubThresholds
	items      *stubItems

	now time.Time
	w   *scheduler.Watchers
}

func newFixture() *fixture {
	f := &fixture{
		mem:        store.NewTxMemory(),
		fstore:     fulfillment.NewMemoryStore(),
		sink:       alert.NewMemorySink(0),
		thresholds: &stubThresholds{},
		items:      &stubItems{},
		now:        time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
	}

	engine := stock.NewEngine(f.mem, stock.PolicyFIFO)
	engine.Now = func() time.Time { return f.now }
	f.requests = fulfillment.NewRequestService(f.fstore, engine)
	f.requests.Now = engine.Now
	f.loans = fulfillment.NewLoanService(f.fstore, engine)
	f.loans.Now = engine.Now

	f.w = &scheduler.Watchers{
		Stock:        f.mem,
		Requests:     f.requests,
		RequestStore: f.fstore,
		Loans:        f.loans,
		LoanStore:    f.fstore,
		Thresholds:   f.thresholds,
		Items:        f.items,
		Sink:         f.sink,
		Now:          func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) alertsOfKind(kind alert.Kind) []alert.Alert {
	var out []alert.Alert
	for _, a := range f.sink.Recent(0) {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// ESCALATION WATCHER
// =============================================================================

func TestEscalation_OnlyStaleRequestsPromoted(t *testing.T) {
	// GIVEN: A request pending 25h and one pending 23h
	// WHEN: The escalation watcher runs (24h age)
	// THEN: Only the older request is escalated, with one alert

	f := newFixture()
	ctx := context.Background()

	f.now = f.now.Add(-25 * time.Hour)
	stale, err := f.requests.Create(ctx, itemEggs, locMarket, stock.NewQuantity(10), "ran out")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour) // 23h before the run
	fresh, err := f.requests.Create(ctx, itemEggs, locMarket, stock.NewQuantity(5), "low")
	require.NoError(t, err)

	f.now = f.now.Add(23 * time.Hour)
	require.NoError(t, f.w.RunEscalation(ctx))

	got, err := f.fstore.GetRequest(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.RequestEscalated, got.Status)
	require.NotNil(t, got.EscalatedAt)

	got, err = f.fstore.GetRequest(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.RequestPending, got.Status)

	alerts := f.alertsOfKind(alert.KindRequestEscalated)
	require.Len(t, alerts, 1)
	assert.Equal(t, string(stale.ID), alerts[0].EntityID)
}

func TestEscalation_AlreadyEscalated_NotTouchedAgain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.now = f.now.Add(-48 * time.Hour)
	r, err := f.requests.Create(ctx, itemEggs, locMarket, stock.NewQuantity(10), "")
	require.NoError(t, err)
	f.now = f.now.Add(48 * time.Hour)

	require.NoError(t, f.w.RunEscalation(ctx))
	require.NoError(t, f.w.RunEscalation(ctx))

	got, err := f.fstore.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.RequestEscalated, got.Status)
	assert.Len(t, f.alertsOfKind(alert.KindRequestEscalated), 1, "one alert per promotion")
}

// =============================================================================
// LOW-STOCK WATCHER
// =============================================================================

func TestLowStock_AlertsOncePerBreach(t *testing.T) {
	// GIVEN: A pair below its threshold
	// WHEN: The watcher runs twice with no recovery in between
	// THEN: Exactly one alert

	f := newFixture()
	ctx := context.Background()

	f.thresholds.ts = []stock.ReorderThreshold{
		{Location: locMarket, Item: itemEggs, Threshold: stock.NewQuantity(10)},
	}
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(4)))

	require.NoError(t, f.w.RunLowStock(ctx))
	require.NoError(t, f.w.RunLowStock(ctx))

	assert.Len(t, f.alertsOfKind(alert.KindLowStock), 1)
}

func TestLowStock_ReAlertsAfterRecovery(t *testing.T) {
	// GIVEN: A breach that recovered above threshold and then breached again
	// WHEN: The watcher runs after each change
	// THEN: Two alerts, one per distinct breach

	f := newFixture()
	ctx := context.Background()

	f.thresholds.ts = []stock.ReorderThreshold{
		{Location: locMarket, Item: itemEggs, Threshold: stock.NewQuantity(10)},
	}

	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(4)))
	require.NoError(t, f.w.RunLowStock(ctx))

	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(25)))
	require.NoError(t, f.w.RunLowStock(ctx))

	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(6)))
	require.NoError(t, f.w.RunLowStock(ctx))

	assert.Len(t, f.alertsOfKind(alert.KindLowStock), 2)
}

func TestLowStock_AtThresholdCountsAsBreach(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.thresholds.ts = []stock.ReorderThreshold{
		{Location: locMarket, Item: itemEggs, Threshold: stock.NewQuantity(10)},
	}
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(10)))

	require.NoError(t, f.w.RunLowStock(ctx))
	assert.Len(t, f.alertsOfKind(alert.KindLowStock), 1)
}

// =============================================================================
// OVERDUE-LOAN WATCHER
// =============================================================================

func TestOverdueLoans_MarksAndRemindsUntilReturned(t *testing.T) {
	// GIVEN: A picked-up loan past its due date
	// WHEN: The watcher runs three times, the loan returned before the last
	// THEN: The loan goes overdue, reminders repeat, and stop after return

	f := newFixture()
	ctx := context.Background()

	loan := fulfillment.Loan{
		ID:        "loan-1",
		Item:      itemEggs,
		Location:  locMarket,
		Borrower:  "stall-7",
		Qty:       stock.NewQuantity(12),
		Status:    fulfillment.LoanPickedUp,
		DueAt:     f.now.Add(-24 * time.Hour),
		CreatedAt: f.now.Add(-72 * time.Hour),
		UpdatedAt: f.now.Add(-72 * time.Hour),
	}
	require.NoError(t, f.fstore.SaveLoan(ctx, loan))

	require.NoError(t, f.w.RunOverdueLoans(ctx))

	got, err := f.fstore.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LoanOverdue, got.Status)
	assert.Len(t, f.alertsOfKind(alert.KindLoanOverdue), 1)

	// Still out: reminded again.
	require.NoError(t, f.w.RunOverdueLoans(ctx))
	assert.Len(t, f.alertsOfKind(alert.KindLoanOverdue), 2)

	// Returned: no further reminders.
	_, err = f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)
	require.NoError(t, f.w.RunOverdueLoans(ctx))
	assert.Len(t, f.alertsOfKind(alert.KindLoanOverdue), 2)
}

func TestOverdueLoans_NotYetDue_Untouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	loan := fulfillment.Loan{
		ID:        "loan-2",
		Item:      itemEggs,
		Location:  locMarket,
		Borrower:  "stall-3",
		Qty:       stock.NewQuantity(5),
		Status:    fulfillment.LoanPickedUp,
		DueAt:     f.now.Add(6 * time.Hour),
		CreatedAt: f.now.Add(-2 * time.Hour),
		UpdatedAt: f.now.Add(-2 * time.Hour),
	}
	require.NoError(t, f.fstore.SaveLoan(ctx, loan))

	require.NoError(t, f.w.RunOverdueLoans(ctx))

	got, err := f.fstore.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LoanPickedUp, got.Status)
	assert.Empty(t, f.alertsOfKind(alert.KindLoanOverdue))
}

// =============================================================================
// EXPIRY WATCHER
// =============================================================================

func TestExpiry_SingleDigestForWindow(t *testing.T) {
	// GIVEN: A perishable item with one batch expired, one expiring within 48h,
	//        and one safely outside the window
	// WHEN: The expiry watcher runs
	// THEN: One digest alert covering exactly the two at-risk batches

	f := newFixture()
	ctx := context.Background()

	f.items.items = []stock.Item{
		{ID: itemEggs, Name: "Eggs", Unit: "crate", ShelfLifeDays: 5},
	}

	seed := func(id string, receivedAt time.Time) {
		b := stock.StockBatch{
			ID:         stock.BatchID(id),
			Item:       itemEggs,
			Location:   locMarket,
			Initial:    stock.NewQuantity(10),
			Remaining:  stock.NewQuantity(10),
			Quality:    3,
			ReceivedAt: receivedAt,
			Status:     stock.BatchAvailable,
		}
		require.NoError(t, f.mem.InsertBatch(ctx, b))
	}
	seed("expired", f.now.AddDate(0, 0, -6))  // horizon passed a day ago
	seed("closing", f.now.AddDate(0, 0, -4))  // expires tomorrow, inside 48h
	seed("safe", f.now.AddDate(0, 0, -1))     // four days left
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(30)))

	require.NoError(t, f.w.RunExpiry(ctx))

	alerts := f.alertsOfKind(alert.KindBatchExpiring)
	require.Len(t, alerts, 1, "one digest, not one alert per batch")
	assert.Contains(t, alerts[0].Message, "expired")
	assert.Contains(t, alerts[0].Message, "closing")
	assert.NotContains(t, alerts[0].Message, "safe")
}

func TestExpiry_NonPerishableIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.items.items = []stock.Item{
		{ID: itemEggs, Name: "Eggs", Unit: "crate", ShelfLifeDays: 0},
	}
	b := stock.StockBatch{
		ID:         "old-batch",
		Item:       itemEggs,
		Location:   locMarket,
		Initial:    stock.NewQuantity(10),
		Remaining:  stock.NewQuantity(10),
		Quality:    3,
		ReceivedAt: f.now.AddDate(0, 0, -365),
		Status:     stock.BatchAvailable,
	}
	require.NoError(t, f.mem.InsertBatch(ctx, b))
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(10)))

	require.NoError(t, f.w.RunExpiry(ctx))
	assert.Empty(t, f.alertsOfKind(alert.KindBatchExpiring))
}

// =============================================================================
// AUTO-REORDER WATCHER
// =============================================================================

func TestAutoReorder_CreatesRequestOnBreach(t *testing.T) {
	// GIVEN: An auto-reorder pair below threshold with no open request
	// WHEN: The watcher runs
	// THEN: One pending request for the configured reorder quantity, one alert

	f := newFixture()
	ctx := context.Background()

	f.thresholds.ts = []stock.ReorderThreshold{
		{
			Location:    locMarket,
			Item:        itemEggs,
			Threshold:   stock.NewQuantity(10),
			AutoReorder: true,
			ReorderQty:  stock.NewQuantity(50),
		},
	}
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(3)))

	require.NoError(t, f.w.RunAutoReorder(ctx))

	reqs, err := f.fstore.ListRequests(ctx, fulfillment.RequestPending)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Qty.Equal(stock.NewQuantity(50)))
	assert.Equal(t, "auto-reorder", reqs[0].Reason)

	assert.Len(t, f.alertsOfKind(alert.KindReorderCreated), 1)
}

func TestAutoReorder_OpenRequestSuppressesNewOne(t *testing.T) {
	// GIVEN: A breached pair that already has an open request
	// WHEN: The watcher runs again
	// THEN: No duplicate request is created

	f := newFixture()
	ctx := context.Background()

	f.thresholds.ts = []stock.ReorderThreshold{
		{
			Location:    locMarket,
			Item:        itemEggs,
			Threshold:   stock.NewQuantity(10),
			AutoReorder: true,
			ReorderQty:  stock.NewQuantity(50),
		},
	}
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(3)))

	require.NoError(t, f.w.RunAutoReorder(ctx))
	require.NoError(t, f.w.RunAutoReorder(ctx))

	reqs, err := f.fstore.ListRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, reqs, 1, "second run must not duplicate the request")
}

func TestAutoReorder_DisabledPairIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.thresholds.ts = []stock.ReorderThreshold{
		{Location: locMarket, Item: itemEggs, Threshold: stock.NewQuantity(10), AutoReorder: false},
	}
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(3)))

	require.NoError(t, f.w.RunAutoReorder(ctx))

	reqs, err := f.fstore.ListRequests(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestAutoReorder_MissingReorderQty_FallsBackToThreshold(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.thresholds.ts = []stock.ReorderThreshold{
		{Location: locMarket, Item: itemEggs, Threshold: stock.NewQuantity(10), AutoReorder: true},
	}
	require.NoError(t, f.mem.SetBalance(ctx, locMarket, itemEggs, stock.NewQuantity(3)))

	require.NoError(t, f.w.RunAutoReorder(ctx))

	reqs, err := f.fstore.ListRequests(ctx, fulfillment.RequestPending)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Qty.Equal(stock.NewQuantity(10)))
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegisterAll_RegistersFiveJobs(t *testing.T) {
	f := newFixture()
	s := scheduler.New()

	f.w.RegisterAll(s)

	ids := s.JobIDs()
	assert.ElementsMatch(t, []string{"escalation", "low-stock", "overdue-loan", "expiry", "auto-reorder"}, ids)
}
