package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moeketsims/stocktracking-sub001/stock"
)

// LoanService owns the loan lifecycle. Pickup withdraws through the stock
// engine; a return receives the quantity back at the source location.
type LoanService struct {
	Store  LoanStore
	Engine *stock.Engine

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewLoanService(store LoanStore, engine *stock.Engine) *LoanService {
	return &LoanService{Store: store, Engine: engine, Now: time.Now}
}

// Confirm registers a new loan awaiting pickup.
func (ls *LoanService) Confirm(ctx context.Context, item stock.ItemID, location stock.LocationID, borrower string, qty stock.Quantity, dueAt time.Time) (*Loan, error) {
	if !qty.IsPositive() {
		return nil, &stock.InvalidQuantityError{Op: "loan", Qty: qty}
	}
	now := ls.Now()
	l := Loan{
		ID:        LoanID(uuid.NewString()),
		Item:      item,
		Location:  location,
		Borrower:  borrower,
		Qty:       qty,
		Status:    LoanConfirmed,
		DueAt:     dueAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ls.Store.SaveLoan(ctx, l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Pickup hands the stock over: withdraws the loaned quantity at the source
// location and marks the loan picked up. Insufficient stock leaves the
// loan confirmed and surfaces the engine's shortfall error.
func (ls *LoanService) Pickup(ctx context.Context, id LoanID) (*Loan, error) {
	l, err := ls.Store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != LoanConfirmed {
		return nil, fmt.Errorf("%w: pickup from %s", ErrIllegalTransition, l.Status)
	}

	if _, err := ls.Engine.Withdraw(ctx, l.Item, l.Location, l.Qty); err != nil {
		return nil, err
	}

	now := ls.Now()
	l.Status = LoanPickedUp
	l.PickedUpAt = &now
	l.UpdatedAt = now
	if err := ls.Store.SaveLoan(ctx, *l); err != nil {
		return nil, err
	}
	return l, nil
}

// MarkOverdue flags a picked-up loan past its due date. Used by the
// overdue-loan watcher; moves no quantity.
func (ls *LoanService) MarkOverdue(ctx context.Context, id LoanID) (*Loan, error) {
	l, err := ls.Store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != LoanPickedUp {
		return nil, fmt.Errorf("%w: overdue from %s", ErrIllegalTransition, l.Status)
	}
	now := ls.Now()
	l.Status = LoanOverdue
	l.UpdatedAt = now
	if err := ls.Store.SaveLoan(ctx, *l); err != nil {
		return nil, err
	}
	return l, nil
}

// Return receives the loaned quantity back at the source location as a
// fresh neutral-quality batch and closes the loan.
func (ls *LoanService) Return(ctx context.Context, id LoanID) (*Loan, error) {
	l, err := ls.Store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !l.Outstanding() {
		return nil, fmt.Errorf("%w: return from %s", ErrIllegalTransition, l.Status)
	}

	if _, err := ls.Engine.Receive(ctx, l.Item, l.Location, l.Qty, stock.NeutralQuality); err != nil {
		return nil, err
	}

	now := ls.Now()
	l.Status = LoanReturned
	l.ReturnedAt = &now
	l.UpdatedAt = now
	if err := ls.Store.SaveLoan(ctx, *l); err != nil {
		return nil, err
	}
	return l, nil
}
