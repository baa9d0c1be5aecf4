/*
handlers.go - HTTP API handlers for the stock tracking system

PURPOSE:
  Exposes the ledger engine, fulfillment lifecycles, reconciliation, and
  scheduler state via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Stock:
    POST   /api/stock/receive        Receive a new batch
    POST   /api/stock/withdraw       Withdraw in consumption-policy order
    POST   /api/stock/transfer       Move stock between locations
    POST   /api/stock/adjust         Administrative batch correction
    GET    /api/stock/balances       All nonzero balances
    GET    /api/stock/batches        Batches for a (location, item) pair
    GET    /api/stock/transactions   Transaction log for an item

  Requests:
    POST   /api/requests             Create a pending request
    GET    /api/requests             List (optionally by status)
    POST   /api/requests/{id}/escalate
    POST   /api/requests/{id}/fulfill
    POST   /api/requests/{id}/expire

  Loans:
    POST   /api/loans                Confirm a loan
    GET    /api/loans                List (optionally by status)
    POST   /api/loans/{id}/pickup
    POST   /api/loans/{id}/return

  Admin:
    POST   /api/admin/reconcile      Run a reconciliation pass now
    GET    /api/alerts               Recent watcher alerts
    GET    /api/scheduler/jobs       Registered jobs with run history
    POST   /api/scheduler/jobs/{id}/run

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Insufficient stock (body carries the shortfall), illegal transition
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/moeketsims/stocktracking-sub001/alert"
	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/scheduler"
	"github.com/moeketsims/stocktracking-sub001/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *stock.Engine
	Reconciler *stock.Reconciler
	Stock      stock.Store

	Requests     *fulfillment.RequestService
	RequestStore fulfillment.RequestStore
	Loans        *fulfillment.LoanService
	LoanStore    fulfillment.LoanStore

	Alerts    *alert.MemorySink
	Scheduler *scheduler.Scheduler
}

// writeOpError maps domain errors onto HTTP statuses.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case stock.IsClientError(err):
		writeError(w, http.StatusBadRequest, err)
	case stock.IsConflict(err):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, fulfillment.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, fulfillment.ErrRequestNotFound),
		errors.Is(err, fulfillment.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// ReceiveStock creates a new batch at a location.
func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var body receiveRequest
	if !decodeBody(w, r, &body) {
		return
	}

	batchID, err := h.Engine.Receive(r.Context(),
		stock.ItemID(body.Item), stock.LocationID(body.Location),
		stock.NewQuantity(body.Qty), body.Quality)
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"batch_id": string(batchID)})
}

// WithdrawStock consumes stock at a location in consumption-policy order.
func (h *Handler) WithdrawStock(w http.ResponseWriter, r *http.Request) {
	var body withdrawRequest
	if !decodeBody(w, r, &body) {
		return
	}

	takes, err := h.Engine.Withdraw(r.Context(),
		stock.ItemID(body.Item), stock.LocationID(body.Location),
		stock.NewQuantity(body.Qty))
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"batches_consumed": toBatchTakes(takes)})
}

// TransferStock moves stock between two locations atomically.
func (h *Handler) TransferStock(w http.ResponseWriter, r *http.Request) {
	var body transferRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.From == body.To {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source and destination are the same location (%s)", body.From))
		return
	}

	takes, err := h.Engine.Transfer(r.Context(),
		stock.ItemID(body.Item), stock.LocationID(body.From), stock.LocationID(body.To),
		stock.NewQuantity(body.Qty))
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"batches_consumed": toBatchTakes(takes)})
}

// AdjustStock applies an administrative correction to one batch.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var body adjustRequest
	if !decodeBody(w, r, &body) {
		return
	}

	err := h.Engine.Adjust(r.Context(),
		stock.ItemID(body.Item), stock.LocationID(body.Location),
		stock.BatchID(body.BatchID), stock.NewQuantity(body.Delta), body.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "adjusted"})
}

// RejectBatch writes off a batch after a failed quality inspection.
func (h *Handler) RejectBatch(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	if !decodeBody(w, r, &body) {
		return
	}

	err := h.Engine.RejectBatch(r.Context(),
		stock.ItemID(body.Item), stock.LocationID(body.Location),
		stock.BatchID(body.BatchID), body.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ListBalances returns every nonzero balance.
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Stock.Balances(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]balanceDTO, 0, len(balances))
	for _, b := range balances {
		dtos = append(dtos, balanceDTO{
			Location: string(b.Location),
			Item:     string(b.Item),
			OnHand:   b.OnHand.String(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListBalancesAt returns the nonzero balances held at one location.
func (h *Handler) ListBalancesAt(w http.ResponseWriter, r *http.Request) {
	location := chi.URLParam(r, "location")

	balances, err := h.Stock.Balances(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]balanceDTO, 0)
	for _, b := range balances {
		if string(b.Location) != location {
			continue
		}
		dtos = append(dtos, balanceDTO{
			Location: string(b.Location),
			Item:     string(b.Item),
			OnHand:   b.OnHand.String(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListBatches returns batches for a (location, item) pair. Pass
// include_depleted=true for the full audit trail.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	item := r.URL.Query().Get("item")
	if location == "" || item == "" {
		writeError(w, http.StatusBadRequest, errors.New("location and item query parameters are required"))
		return
	}

	var (
		batches []stock.StockBatch
		err     error
	)
	if r.URL.Query().Get("include_depleted") == "true" {
		batches, err = h.Stock.AllBatchesAt(r.Context(), stock.LocationID(location), stock.ItemID(item))
	} else {
		batches, err = h.Stock.BatchesAt(r.Context(), stock.LocationID(location), stock.ItemID(item))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]batchDTO, 0, len(batches))
	for _, b := range batches {
		dtos = append(dtos, toBatchDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTransactions returns the transaction log for an item, oldest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	item := r.URL.Query().Get("item")
	if item == "" {
		writeError(w, http.StatusBadRequest, errors.New("item query parameter is required"))
		return
	}

	txs, err := h.Stock.TransactionsForItem(r.Context(), stock.ItemID(item))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]transactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest registers a new pending stock request.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	req, err := h.Requests.Create(r.Context(),
		stock.ItemID(body.Item), stock.LocationID(body.Location),
		stock.NewQuantity(body.Qty), body.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*req))
}

// ListRequests returns requests, optionally filtered by ?status=.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	status := fulfillment.RequestStatus(r.URL.Query().Get("status"))

	reqs, err := h.RequestStore.ListRequests(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]requestDTO, 0, len(reqs))
	for _, req := range reqs {
		dtos = append(dtos, toRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.RequestID(chi.URLParam(r, "id"))
	req, err := h.RequestStore.GetRequest(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// EscalateRequest promotes a pending request.
func (h *Handler) EscalateRequest(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.RequestID(chi.URLParam(r, "id"))
	req, err := h.Requests.Escalate(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// FulfillRequest satisfies a request from the given source location.
func (h *Handler) FulfillRequest(w http.ResponseWriter, r *http.Request) {
	var body fulfillRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.From == "" {
		writeError(w, http.StatusBadRequest, errors.New("from is required"))
		return
	}

	id := fulfillment.RequestID(chi.URLParam(r, "id"))
	req, err := h.Requests.Fulfill(r.Context(), id, stock.LocationID(body.From))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// ExpireRequest closes out a request that will never be fulfilled.
func (h *Handler) ExpireRequest(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.RequestID(chi.URLParam(r, "id"))
	req, err := h.Requests.Expire(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// CreateLoan confirms a new loan awaiting pickup.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var body createLoanBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.DueAt.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("due_at is required"))
		return
	}

	loan, err := h.Loans.Confirm(r.Context(),
		stock.ItemID(body.Item), stock.LocationID(body.Location),
		body.Borrower, stock.NewQuantity(body.Qty), body.DueAt)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(*loan))
}

// ListLoans returns loans, optionally filtered by ?status=.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	status := fulfillment.LoanStatus(r.URL.Query().Get("status"))

	loans, err := h.LoanStore.ListLoans(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]loanDTO, 0, len(loans))
	for _, l := range loans {
		dtos = append(dtos, toLoanDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLoan returns a single loan.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.LoanID(chi.URLParam(r, "id"))
	loan, err := h.LoanStore.GetLoan(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// PickupLoan withdraws the loaned quantity and marks the loan picked up.
func (h *Handler) PickupLoan(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.LoanID(chi.URLParam(r, "id"))
	loan, err := h.Loans.Pickup(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// ReturnLoan receives the loaned quantity back and closes the loan.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.LoanID(chi.URLParam(r, "id"))
	loan, err := h.Loans.Return(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerReconcile runs a reconciliation pass immediately and returns the
// structured report.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciler.Check(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ListAlerts returns recent watcher alerts, newest first. ?limit= caps the
// count (default 100).
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	alerts := h.Alerts.Recent(limit)
	dtos := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		dtos = append(dtos, alertDTO{
			ID:        a.ID,
			Kind:      string(a.Kind),
			Location:  a.Location,
			Item:      a.Item,
			EntityID:  a.EntityID,
			Message:   a.Message,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListJobs returns the registered scheduler jobs with their run history.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ids := h.Scheduler.JobIDs()
	sort.Strings(ids)

	dtos := make([]jobDTO, 0, len(ids))
	for _, id := range ids {
		job := jobDTO{ID: id, History: []runRecordDTO{}}
		for _, rec := range h.Scheduler.History(id) {
			job.History = append(job.History, runRecordDTO{
				StartedAt:  rec.StartedAt.Format(time.RFC3339),
				FinishedAt: rec.FinishedAt.Format(time.RFC3339),
				Status:     string(rec.Status),
				Error:      rec.Error,
			})
		}
		dtos = append(dtos, job)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunJob fires a scheduler job immediately.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Scheduler.RunNow(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "fired", "job": id})
}
