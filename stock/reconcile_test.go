package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/moeketsims/stocktracking-sub001/stock"
	"github.com/moeketsims/stocktracking-sub001/stock/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(mem *store.TxMemory) *stock.Reconciler {
	rec := stock.NewReconciler(mem)
	rec.Now = func() time.Time { return day(10) }
	return rec
}

func TestReconcile_CleanLedger_NoFindings(t *testing.T) {
	// GIVEN: A ledger where every mutation went through the engine
	// WHEN: Running reconciliation
	// THEN: Every pair checks out clean

	engine, mem := newTestEngine(stock.PolicyFIFO)
	ctx := context.Background()

	receiveOn(t, engine, itemTomatoes, locWarehouse, 100, 3, day(1))
	_, err := engine.Withdraw(ctx, itemTomatoes, locWarehouse, qty(40))
	require.NoError(t, err)

	report, err := newTestReconciler(mem).Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.PairsChecked)
}

func TestReconcile_MissingBatchQuantity_SynthesizesCompensatingBatch(t *testing.T) {
	// GIVEN: A batch lost 30 units outside the ledger (balance still claims them)
	// WHEN: Running reconciliation
	// THEN: One neutral-quality compensating batch closes the gap and the
	//       correction is recorded as an adjust transaction

	engine, mem := newTestEngine(stock.PolicyFIFO)
	ctx := context.Background()

	batchID := receiveOn(t, engine, itemTomatoes, locWarehouse, 100, 3, day(1))

	// Simulate out-of-band batch damage: Remaining drops, balance untouched.
	batch, err := mem.GetBatch(ctx, batchID)
	require.NoError(t, err)
	batch.Remaining = qty(70)
	require.NoError(t, mem.UpdateBatch(ctx, *batch))

	report, err := newTestReconciler(mem).Check(ctx)
	require.NoError(t, err)

	require.Len(t, report.Corrections, 1)
	assert.Empty(t, report.Violations)
	correction := report.Corrections[0]
	assert.True(t, correction.Amount.Equal(qty(30)))

	comp, err := mem.GetBatch(ctx, correction.BatchID)
	require.NoError(t, err)
	assert.Equal(t, stock.NeutralQuality, comp.Quality)
	assert.Equal(t, stock.ReconcileReasonTag, comp.Reason)
	assert.True(t, comp.Remaining.Equal(qty(30)))

	// The invariant holds again.
	assertConservation(t, mem, locWarehouse, itemTomatoes)

	// The correction left an audit trail.
	txs, err := mem.TransactionsForItem(ctx, itemTomatoes)
	require.NoError(t, err)
	last := txs[len(txs)-1]
	assert.Equal(t, stock.TxAdjust, last.Type)
	assert.Equal(t, stock.ReconcileReasonTag, last.Reason)
}

func TestReconcile_Idempotent(t *testing.T) {
	// GIVEN: A drifted pair repaired by one reconciliation pass
	// WHEN: Running a second pass with no intervening mutations
	// THEN: Zero corrections; the synthesized batch already closed the gap

	engine, mem := newTestEngine(stock.PolicyFIFO)
	ctx := context.Background()

	batchID := receiveOn(t, engine, itemTomatoes, locWarehouse, 100, 3, day(1))
	batch, err := mem.GetBatch(ctx, batchID)
	require.NoError(t, err)
	batch.Remaining = qty(70)
	require.NoError(t, mem.UpdateBatch(ctx, *batch))

	rec := newTestReconciler(mem)

	first, err := rec.Check(ctx)
	require.NoError(t, err)
	require.Len(t, first.Corrections, 1)

	second, err := rec.Check(ctx)
	require.NoError(t, err)
	assert.True(t, second.Clean(), "second pass must find nothing")
}

func TestReconcile_AuthorityViolation_ReportedNotRepaired(t *testing.T) {
	// GIVEN: A balance decremented without ledger involvement (batch sum is higher)
	// WHEN: Running reconciliation
	// THEN: The pair is flagged as an authority violation; neither side is touched

	engine, mem := newTestEngine(stock.PolicyFIFO)
	ctx := context.Background()

	batchID := receiveOn(t, engine, itemTomatoes, locWarehouse, 100, 3, day(1))

	// Simulate a rogue balance write.
	require.NoError(t, mem.SetBalance(ctx, locWarehouse, itemTomatoes, qty(60)))

	report, err := newTestReconciler(mem).Check(ctx)
	require.NoError(t, err)

	assert.Empty(t, report.Corrections)
	require.Len(t, report.Violations, 1)
	v := report.Violations[0]
	assert.True(t, v.Balance.Equal(qty(60)))
	assert.True(t, v.BatchSum.Equal(qty(100)))
	require.NotNil(t, v.Err)
	assert.ErrorIs(t, v.Err, stock.ErrBalanceAuthorityViolation)

	// Never auto-healed: batch and balance unchanged.
	batch, err := mem.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, batch.Remaining.Equal(qty(100)))

	balance, err := mem.Balance(ctx, locWarehouse, itemTomatoes)
	require.NoError(t, err)
	assert.True(t, balance.Equal(qty(60)))
}
