/*
Package fulfillment holds the Request and Loan lifecycles.

PURPOSE:
  Requests (a pending stock need) and Loans (an outstanding lent quantity)
  are external entities the ledger core does not own. The ledger only
  reads their timestamps and statuses to drive watcher actions, and writes
  the enumerated status transitions. Quantities move only where a pickup
  or fulfillment explicitly calls through the stock.Engine contract.

STATE MACHINES:
  Request: pending -> escalated -> {fulfilled | expired}
           (fulfillment is also allowed straight from pending)
  Loan:    confirmed -> picked_up -> {returned | overdue -> returned}

All transitions are guarded; an illegal transition returns
ErrIllegalTransition and changes nothing.
*/
package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/moeketsims/stocktracking-sub001/stock"
)

var (
	ErrRequestNotFound   = errors.New("request not found")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// =============================================================================
// REQUEST
// =============================================================================

type RequestID string

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestEscalated RequestStatus = "escalated"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestExpired   RequestStatus = "expired"
)

// Request is a pending stock need at a location.
type Request struct {
	ID       RequestID
	Item     stock.ItemID
	Location stock.LocationID
	Qty      stock.Quantity
	Status   RequestStatus
	Reason   string

	CreatedAt   time.Time
	EscalatedAt *time.Time
	ResolvedAt  *time.Time // set on fulfilled or expired
	UpdatedAt   time.Time
}

// =============================================================================
// LOAN
// =============================================================================

type LoanID string

type LoanStatus string

const (
	LoanConfirmed LoanStatus = "confirmed"
	LoanPickedUp  LoanStatus = "picked_up"
	LoanOverdue   LoanStatus = "overdue"
	LoanReturned  LoanStatus = "returned"
)

// Loan is an outstanding quantity lent from a location to a borrower.
type Loan struct {
	ID       LoanID
	Item     stock.ItemID
	Location stock.LocationID // source location the stock leaves from
	Borrower string
	Qty      stock.Quantity
	Status   LoanStatus

	DueAt      time.Time
	CreatedAt  time.Time
	PickedUpAt *time.Time
	ReturnedAt *time.Time
	UpdatedAt  time.Time
}

// Outstanding reports whether the loaned quantity is still out.
func (l Loan) Outstanding() bool {
	return l.Status == LoanPickedUp || l.Status == LoanOverdue
}

// =============================================================================
// STORES
// =============================================================================

// RequestStore persists requests. Watchers and the HTTP layer read through
// it; only the services in this package write.
type RequestStore interface {
	SaveRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id RequestID) (*Request, error)
	ListRequests(ctx context.Context, status RequestStatus) ([]Request, error)
}

// LoanStore persists loans.
type LoanStore interface {
	SaveLoan(ctx context.Context, l Loan) error
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)
	ListLoans(ctx context.Context, status LoanStatus) ([]Loan, error)
}
