// dto.go - Request/response shapes and JSON helpers for the HTTP layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/stock"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type receiveRequest struct {
	Item     string  `json:"item"`
	Location string  `json:"location"`
	Qty      float64 `json:"qty"`
	Quality  int     `json:"quality"`
}

type withdrawRequest struct {
	Item     string  `json:"item"`
	Location string  `json:"location"`
	Qty      float64 `json:"qty"`
}

type transferRequest struct {
	Item string  `json:"item"`
	From string  `json:"from"`
	To   string  `json:"to"`
	Qty  float64 `json:"qty"`
}

type adjustRequest struct {
	Item     string  `json:"item"`
	Location string  `json:"location"`
	BatchID  string  `json:"batch_id"`
	Delta    float64 `json:"delta"`
	Reason   string  `json:"reason"`
}

type rejectRequest struct {
	Item     string `json:"item"`
	Location string `json:"location"`
	BatchID  string `json:"batch_id"`
	Reason   string `json:"reason"`
}

type createRequestBody struct {
	Item     string  `json:"item"`
	Location string  `json:"location"`
	Qty      float64 `json:"qty"`
	Reason   string  `json:"reason"`
}

type fulfillRequestBody struct {
	From string `json:"from"`
}

type createLoanBody struct {
	Item     string    `json:"item"`
	Location string    `json:"location"`
	Borrower string    `json:"borrower"`
	Qty      float64   `json:"qty"`
	DueAt    time.Time `json:"due_at"`
}

// =============================================================================
// RESPONSE SHAPES
// =============================================================================

type batchTakeDTO struct {
	BatchID string `json:"batch_id"`
	Qty     string `json:"qty"`
}

func toBatchTakes(takes []stock.BatchTake) []batchTakeDTO {
	out := make([]batchTakeDTO, 0, len(takes))
	for _, t := range takes {
		out = append(out, batchTakeDTO{BatchID: string(t.BatchID), Qty: t.Qty.String()})
	}
	return out
}

type balanceDTO struct {
	Location string `json:"location"`
	Item     string `json:"item"`
	OnHand   string `json:"on_hand"`
}

type batchDTO struct {
	ID         string `json:"id"`
	Item       string `json:"item"`
	Location   string `json:"location"`
	Initial    string `json:"initial"`
	Remaining  string `json:"remaining"`
	Quality    int    `json:"quality"`
	ReceivedAt string `json:"received_at"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

func toBatchDTO(b stock.StockBatch) batchDTO {
	return batchDTO{
		ID:         string(b.ID),
		Item:       string(b.Item),
		Location:   string(b.Location),
		Initial:    b.Initial.String(),
		Remaining:  b.Remaining.String(),
		Quality:    b.Quality,
		ReceivedAt: b.ReceivedAt.Format(time.RFC3339),
		Status:     string(b.Status),
		Reason:     b.Reason,
	}
}

type transactionDTO struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Item            string         `json:"item"`
	Qty             string         `json:"qty"`
	From            string         `json:"from,omitempty"`
	To              string         `json:"to,omitempty"`
	BatchesConsumed []batchTakeDTO `json:"batches_consumed,omitempty"`
	BatchesCreated  []batchTakeDTO `json:"batches_created,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	CreatedAt       string         `json:"created_at"`
}

func toTransactionDTO(tx stock.StockTransaction) transactionDTO {
	dto := transactionDTO{
		ID:        string(tx.ID),
		Type:      string(tx.Type),
		Item:      string(tx.Item),
		Qty:       tx.Qty.String(),
		Reason:    tx.Reason,
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.From != nil {
		dto.From = string(*tx.From)
	}
	if tx.To != nil {
		dto.To = string(*tx.To)
	}
	for _, ref := range tx.BatchesConsumed {
		dto.BatchesConsumed = append(dto.BatchesConsumed, batchTakeDTO{BatchID: string(ref.BatchID), Qty: ref.Qty.String()})
	}
	for _, ref := range tx.BatchesCreated {
		dto.BatchesCreated = append(dto.BatchesCreated, batchTakeDTO{BatchID: string(ref.BatchID), Qty: ref.Qty.String()})
	}
	return dto
}

type requestDTO struct {
	ID          string `json:"id"`
	Item        string `json:"item"`
	Location    string `json:"location"`
	Qty         string `json:"qty"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at"`
	EscalatedAt string `json:"escalated_at,omitempty"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
}

func toRequestDTO(r fulfillment.Request) requestDTO {
	return requestDTO{
		ID:          string(r.ID),
		Item:        string(r.Item),
		Location:    string(r.Location),
		Qty:         r.Qty.String(),
		Status:      string(r.Status),
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		EscalatedAt: formatTimePtr(r.EscalatedAt),
		ResolvedAt:  formatTimePtr(r.ResolvedAt),
	}
}

type loanDTO struct {
	ID         string `json:"id"`
	Item       string `json:"item"`
	Location   string `json:"location"`
	Borrower   string `json:"borrower"`
	Qty        string `json:"qty"`
	Status     string `json:"status"`
	DueAt      string `json:"due_at"`
	CreatedAt  string `json:"created_at"`
	PickedUpAt string `json:"picked_up_at,omitempty"`
	ReturnedAt string `json:"returned_at,omitempty"`
}

func toLoanDTO(l fulfillment.Loan) loanDTO {
	return loanDTO{
		ID:         string(l.ID),
		Item:       string(l.Item),
		Location:   string(l.Location),
		Borrower:   l.Borrower,
		Qty:        l.Qty.String(),
		Status:     string(l.Status),
		DueAt:      l.DueAt.Format(time.RFC3339),
		CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		PickedUpAt: formatTimePtr(l.PickedUpAt),
		ReturnedAt: formatTimePtr(l.ReturnedAt),
	}
}

type alertDTO struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Location  string `json:"location,omitempty"`
	Item      string `json:"item,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type correctionDTO struct {
	Item     string `json:"item"`
	Location string `json:"location"`
	BatchID  string `json:"batch_id"`
	Amount   string `json:"amount"`
}

type violationDTO struct {
	Item     string `json:"item"`
	Location string `json:"location"`
	Balance  string `json:"balance"`
	BatchSum string `json:"batch_sum"`
}

type reconcileReportDTO struct {
	CheckedAt    string          `json:"checked_at"`
	PairsChecked int             `json:"pairs_checked"`
	Clean        bool            `json:"clean"`
	Corrections  []correctionDTO `json:"corrections"`
	Violations   []violationDTO  `json:"violations"`
}

func toReportDTO(report *stock.Report) reconcileReportDTO {
	dto := reconcileReportDTO{
		CheckedAt:    report.CheckedAt.Format(time.RFC3339),
		PairsChecked: report.PairsChecked,
		Clean:        report.Clean(),
		Corrections:  []correctionDTO{},
		Violations:   []violationDTO{},
	}
	for _, c := range report.Corrections {
		dto.Corrections = append(dto.Corrections, correctionDTO{
			Item:     string(c.Item),
			Location: string(c.Location),
			BatchID:  string(c.BatchID),
			Amount:   c.Amount.String(),
		})
	}
	for _, v := range report.Violations {
		dto.Violations = append(dto.Violations, violationDTO{
			Item:     string(v.Item),
			Location: string(v.Location),
			Balance:  v.Balance.String(),
			BatchSum: v.BatchSum.String(),
		})
	}
	return dto
}

type runRecordDTO struct {
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type jobDTO struct {
	ID      string         `json:"id"`
	History []runRecordDTO `json:"history"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Shortfall string `json:"shortfall,omitempty"`
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var insufficient *stock.InsufficientStockError
	if errors.As(err, &insufficient) {
		resp.Shortfall = insufficient.Shortfall.String()
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
