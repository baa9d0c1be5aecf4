package fulfillment_test

import (
	"context"
	"testing"
	"time"

	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/stock"
	"github.com/moeketsims/stocktracking-sub001/stock/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoanFixture(t *testing.T) (*fulfillment.LoanService, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	engine := stock.NewEngine(mem, stock.PolicyFIFO)
	svc := fulfillment.NewLoanService(fulfillment.NewMemoryStore(), engine)
	return svc, mem
}

func dueTomorrow() time.Time {
	return time.Now().Add(24 * time.Hour)
}

func TestLoan_Confirm_StartsConfirmed_NoStockMoves(t *testing.T) {
	svc, mem := newLoanFixture(t)
	ctx := context.Background()

	seedStock(t, mem, itemOnions, locDepot, 50)

	l, err := svc.Confirm(ctx, itemOnions, locDepot, "stall-9", stock.NewQuantity(10), dueTomorrow())
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LoanConfirmed, l.Status)

	balance, err := mem.Balance(ctx, locDepot, itemOnions)
	require.NoError(t, err)
	assert.True(t, balance.Equal(stock.NewQuantity(50)), "confirmation reserves nothing")
}

func TestLoan_Pickup_WithdrawsStock(t *testing.T) {
	// GIVEN: A confirmed loan with sufficient stock
	// WHEN: The borrower picks it up
	// THEN: The quantity leaves the source location through the ledger

	svc, mem := newLoanFixture(t)
	ctx := context.Background()

	seedStock(t, mem, itemOnions, locDepot, 50)
	l, err := svc.Confirm(ctx, itemOnions, locDepot, "stall-9", stock.NewQuantity(10), dueTomorrow())
	require.NoError(t, err)

	picked, err := svc.Pickup(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LoanPickedUp, picked.Status)
	require.NotNil(t, picked.PickedUpAt)

	balance, err := mem.Balance(ctx, locDepot, itemOnions)
	require.NoError(t, err)
	assert.True(t, balance.Equal(stock.NewQuantity(40)))

	txs, err := mem.TransactionsForItem(ctx, itemOnions)
	require.NoError(t, err)
	assert.Equal(t, stock.TxWithdraw, txs[len(txs)-1].Type)
}

func TestLoan_Pickup_InsufficientStock_StaysConfirmed(t *testing.T) {
	svc, mem := newLoanFixture(t)
	ctx := context.Background()

	seedStock(t, mem, itemOnions, locDepot, 5)
	l, err := svc.Confirm(ctx, itemOnions, locDepot, "stall-9", stock.NewQuantity(10), dueTomorrow())
	require.NoError(t, err)

	_, err = svc.Pickup(ctx, l.ID)
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	got, err := svc.Store.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LoanConfirmed, got.Status)
}

func TestLoan_Return_ReceivesNeutralQualityBatch(t *testing.T) {
	// GIVEN: A picked-up loan
	// WHEN: The borrower returns it
	// THEN: The quantity comes back as a fresh neutral-quality batch and the
	//       loan closes

	svc, mem := newLoanFixture(t)
	ctx := context.Background()

	seedStock(t, mem, itemOnions, locDepot, 50)
	l, err := svc.Confirm(ctx, itemOnions, locDepot, "stall-9", stock.NewQuantity(10), dueTomorrow())
	require.NoError(t, err)
	_, err = svc.Pickup(ctx, l.ID)
	require.NoError(t, err)

	returned, err := svc.Return(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LoanReturned, returned.Status)
	require.NotNil(t, returned.ReturnedAt)

	balance, err := mem.Balance(ctx, locDepot, itemOnions)
	require.NoError(t, err)
	assert.True(t, balance.Equal(stock.NewQuantity(50)))

	batches, err := mem.BatchesAt(ctx, locDepot, itemOnions)
	require.NoError(t, err)
	var found bool
	for _, b := range batches {
		if b.Quality == stock.NeutralQuality && b.Remaining.Equal(stock.NewQuantity(10)) {
			found = true
		}
	}
	assert.True(t, found, "return must create a neutral-quality batch")
}

func TestLoan_Return_FromOverdue_Allowed(t *testing.T) {
	svc, mem := newLoanFixture(t)
	ctx := context.Background()

	seedStock(t, mem, itemOnions, locDepot, 50)
	l, err := svc.Confirm(ctx, itemOnions, locDepot, "stall-9", stock.NewQuantity(10), dueTomorrow())
	require.NoError(t, err)
	_, err = svc.Pickup(ctx, l.ID)
	require.NoError(t, err)
	_, err = svc.MarkOverdue(ctx, l.ID)
	require.NoError(t, err)

	returned, err := svc.Return(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LoanReturned, returned.Status)
}

func TestLoan_IllegalTransitions(t *testing.T) {
	svc, mem := newLoanFixture(t)
	ctx := context.Background()

	seedStock(t, mem, itemOnions, locDepot, 50)
	l, err := svc.Confirm(ctx, itemOnions, locDepot, "stall-9", stock.NewQuantity(10), dueTomorrow())
	require.NoError(t, err)

	// Not yet picked up: cannot return or go overdue.
	_, err = svc.Return(ctx, l.ID)
	assert.ErrorIs(t, err, fulfillment.ErrIllegalTransition)
	_, err = svc.MarkOverdue(ctx, l.ID)
	assert.ErrorIs(t, err, fulfillment.ErrIllegalTransition)

	_, err = svc.Pickup(ctx, l.ID)
	require.NoError(t, err)

	// Picked up: cannot pick up again.
	_, err = svc.Pickup(ctx, l.ID)
	assert.ErrorIs(t, err, fulfillment.ErrIllegalTransition)

	_, err = svc.Return(ctx, l.ID)
	require.NoError(t, err)

	// Returned is terminal.
	_, err = svc.Return(ctx, l.ID)
	assert.ErrorIs(t, err, fulfillment.ErrIllegalTransition)
	_, err = svc.MarkOverdue(ctx, l.ID)
	assert.ErrorIs(t, err, fulfillment.ErrIllegalTransition)
}

func TestLoan_UnknownID_NotFound(t *testing.T) {
	svc, _ := newLoanFixture(t)

	_, err := svc.Pickup(context.Background(), "missing")
	assert.ErrorIs(t, err, fulfillment.ErrLoanNotFound)
}
