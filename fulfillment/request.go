package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moeketsims/stocktracking-sub001/stock"
)

// RequestService owns the request lifecycle. Quantity only moves when
// Fulfill calls through the stock engine.
type RequestService struct {
	Store  RequestStore
	Engine *stock.Engine

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewRequestService(store RequestStore, engine *stock.Engine) *RequestService {
	return &RequestService{Store: store, Engine: engine, Now: time.Now}
}

// Create registers a new pending request.
func (rs *RequestService) Create(ctx context.Context, item stock.ItemID, location stock.LocationID, qty stock.Quantity, reason string) (*Request, error) {
	if !qty.IsPositive() {
		return nil, &stock.InvalidQuantityError{Op: "request", Qty: qty}
	}
	now := rs.Now()
	r := Request{
		ID:        RequestID(uuid.NewString()),
		Item:      item,
		Location:  location,
		Qty:       qty,
		Status:    RequestPending,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := rs.Store.SaveRequest(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Escalate promotes a stale pending request. Used by the escalation watcher.
func (rs *RequestService) Escalate(ctx context.Context, id RequestID) (*Request, error) {
	r, err := rs.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != RequestPending {
		return nil, fmt.Errorf("%w: escalate from %s", ErrIllegalTransition, r.Status)
	}
	now := rs.Now()
	r.Status = RequestEscalated
	r.EscalatedAt = &now
	r.UpdatedAt = now
	if err := rs.Store.SaveRequest(ctx, *r); err != nil {
		return nil, err
	}
	return r, nil
}

// Fulfill satisfies the request from the given source location. If the
// source is the request's own location the stock is withdrawn on the spot;
// otherwise it is transferred there first, preserving batch provenance.
// An insufficient source leaves the request untouched and surfaces the
// engine's shortfall error.
func (rs *RequestService) Fulfill(ctx context.Context, id RequestID, from stock.LocationID) (*Request, error) {
	r, err := rs.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != RequestPending && r.Status != RequestEscalated {
		return nil, fmt.Errorf("%w: fulfill from %s", ErrIllegalTransition, r.Status)
	}

	if from == r.Location {
		_, err = rs.Engine.Withdraw(ctx, r.Item, from, r.Qty)
	} else {
		_, err = rs.Engine.Transfer(ctx, r.Item, from, r.Location, r.Qty)
	}
	if err != nil {
		return nil, err
	}

	now := rs.Now()
	r.Status = RequestFulfilled
	r.ResolvedAt = &now
	r.UpdatedAt = now
	if err := rs.Store.SaveRequest(ctx, *r); err != nil {
		return nil, err
	}
	return r, nil
}

// Expire closes out a request that will never be fulfilled.
func (rs *RequestService) Expire(ctx context.Context, id RequestID) (*Request, error) {
	r, err := rs.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != RequestPending && r.Status != RequestEscalated {
		return nil, fmt.Errorf("%w: expire from %s", ErrIllegalTransition, r.Status)
	}
	now := rs.Now()
	r.Status = RequestExpired
	r.ResolvedAt = &now
	r.UpdatedAt = now
	if err := rs.Store.SaveRequest(ctx, *r); err != nil {
		return nil, err
	}
	return r, nil
}
