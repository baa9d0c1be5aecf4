package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/moeketsims/stocktracking-sub001/alert"
	"github.com/moeketsims/stocktracking-sub001/api"
	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/scheduler"
	"github.com/moeketsims/stocktracking-sub001/stock"
	"github.com/moeketsims/stocktracking-sub001/stock/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mem := store.NewTxMemory()
	engine := stock.NewEngine(mem, stock.PolicyFIFO)
	fstore := fulfillment.NewMemoryStore()

	h := &api.Handler{
		Engine:       engine,
		Reconciler:   stock.NewReconciler(mem),
		Stock:        mem,
		Requests:     fulfillment.NewRequestService(fstore, engine),
		RequestStore: fstore,
		Loans:        fulfillment.NewLoanService(fstore, engine),
		LoanStore:    fstore,
		Alerts:       alert.NewMemorySink(0),
		Scheduler:    scheduler.New(),
	}

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

func TestAPI_ReceiveThenWithdraw(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": 100, "quality": 4,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["batch_id"])

	resp, body = postJSON(t, srv, "/api/stock/withdraw", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": 30,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	consumed, ok := body["batches_consumed"].([]any)
	require.True(t, ok)
	assert.Len(t, consumed, 1)

	var balances []map[string]any
	getJSON(t, srv, "/api/stock/balances", &balances)
	require.Len(t, balances, 1)
	assert.Equal(t, "70", balances[0]["on_hand"])
}

func TestAPI_BalancesAt_FiltersByLocation(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": 100, "quality": 4,
	})
	postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "tomatoes", "location": "shop-1", "qty": 25, "quality": 4,
	})

	var balances []map[string]any
	getJSON(t, srv, "/api/stock/balances/shop-1", &balances)
	require.Len(t, balances, 1)
	assert.Equal(t, "shop-1", balances[0]["location"])
	assert.Equal(t, "25", balances[0]["on_hand"])
}

func TestAPI_Withdraw_Insufficient_409WithShortfall(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": 50, "quality": 3,
	})

	resp, body := postJSON(t, srv, "/api/stock/withdraw", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": 80,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "30", body["shortfall"])
	assert.NotEmpty(t, body["error"])
}

func TestAPI_Receive_InvalidQuantity_400(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": -5, "quality": 3,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestAPI_Transfer_SameLocation_400(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv, "/api/stock/transfer", map[string]any{
		"item": "tomatoes", "from": "warehouse", "to": "warehouse", "qty": 5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RejectBatch(t *testing.T) {
	srv := newTestServer(t)

	_, body := postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": 40, "quality": 2,
	})
	batchID := body["batch_id"].(string)

	resp, body := postJSON(t, srv, "/api/stock/reject", map[string]any{
		"item": "tomatoes", "location": "warehouse", "batch_id": batchID, "reason": "mould",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["status"])

	// The write-off empties the balance.
	var balances []map[string]any
	getJSON(t, srv, "/api/stock/balances", &balances)
	assert.Empty(t, balances)

	// A second rejection conflicts.
	resp, _ = postJSON(t, srv, "/api/stock/reject", map[string]any{
		"item": "tomatoes", "location": "warehouse", "batch_id": batchID, "reason": "mould",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ListBatches_RequiresLocationAndItem(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/stock/batches?location=warehouse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// REQUEST ENDPOINTS
// =============================================================================

func TestAPI_RequestLifecycle(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "eggs", "location": "depot", "qty": 100, "quality": 3,
	})

	resp, body := postJSON(t, srv, "/api/requests", map[string]any{
		"item": "eggs", "location": "shop-1", "qty": 20, "reason": "sold out",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	id := body["id"].(string)

	resp, body = postJSON(t, srv, fmt.Sprintf("/api/requests/%s/fulfill", id), map[string]any{
		"from": "depot",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fulfilled", body["status"])

	// The quantity landed at the requesting shop.
	var balances []map[string]any
	getJSON(t, srv, "/api/stock/balances", &balances)
	byLocation := map[string]string{}
	for _, b := range balances {
		byLocation[b["location"].(string)] = b["on_hand"].(string)
	}
	assert.Equal(t, "80", byLocation["depot"])
	assert.Equal(t, "20", byLocation["shop-1"])

	// A fulfilled request rejects further transitions.
	resp, _ = postJSON(t, srv, fmt.Sprintf("/api/requests/%s/expire", id), map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Request_Unknown_404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/requests/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// LOAN ENDPOINTS
// =============================================================================

func TestAPI_LoanLifecycle(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "eggs", "location": "depot", "qty": 30, "quality": 3,
	})

	resp, body := postJSON(t, srv, "/api/loans", map[string]any{
		"item": "eggs", "location": "depot", "borrower": "stall-7",
		"qty": 10, "due_at": "2026-09-10T12:00:00Z",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])
	id := body["id"].(string)

	resp, body = postJSON(t, srv, fmt.Sprintf("/api/loans/%s/pickup", id), map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "picked_up", body["status"])

	resp, body = postJSON(t, srv, fmt.Sprintf("/api/loans/%s/return", id), map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "returned", body["status"])

	var balances []map[string]any
	getJSON(t, srv, "/api/stock/balances", &balances)
	require.Len(t, balances, 1)
	assert.Equal(t, "30", balances[0]["on_hand"])
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func TestAPI_Reconcile_CleanLedger(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/stock/receive", map[string]any{
		"item": "tomatoes", "location": "warehouse", "qty": 50, "quality": 3,
	})

	resp, body := postJSON(t, srv, "/api/admin/reconcile", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["clean"])
	assert.Equal(t, float64(1), body["pairs_checked"])
}

func TestAPI_SchedulerJobs_Empty(t *testing.T) {
	srv := newTestServer(t)

	var jobs []map[string]any
	resp := getJSON(t, srv, "/api/scheduler/jobs", &jobs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, jobs)
}

func TestAPI_RunJob_Unknown_404(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv, "/api/scheduler/jobs/nope/run", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
