/*
errors.go - Centralized error types for the stock ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine operations return these; they never panic and never leave
  partial state behind an error.

ERROR CATEGORIES:
  1. Caller errors - invalid quantity, unknown batch (rejected pre-mutation)
  2. Stock errors  - insufficient stock (all-or-nothing rejection)
  3. Integrity     - balance authority violation (reported, never auto-healed)

USAGE:
  Callers branch with errors.Is / errors.As:

    var insufficient *stock.InsufficientStockError
    if errors.As(err, &insufficient) {
        // insufficient.Shortfall supports partial-fulfillment decisions
    }
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned when an operation is called with a
	// non-positive quantity. Rejected before any mutation.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInsufficientStock is returned when a withdraw or transfer cannot
	// be fully satisfied. No batch or balance is mutated.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBalanceAuthorityViolation is surfaced by reconciliation when the
	// batch sum exceeds the stored balance: the balance was decremented
	// without ledger involvement. Never auto-repaired.
	ErrBalanceAuthorityViolation = errors.New("balance authority violation")

	// ErrBatchNotFound is returned when an adjust references an unknown batch.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchMismatch is returned when an adjust references a batch that
	// belongs to a different item or location than stated.
	ErrBatchMismatch = errors.New("batch does not match item/location")

	// ErrBatchRejected is returned when an operation targets a batch that
	// has already been rejected. Rejected batches are terminal.
	ErrBatchRejected = errors.New("batch is rejected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidQuantityError reports a non-positive quantity on an operation.
type InvalidQuantityError struct {
	Op  string
	Qty Quantity
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("%s: quantity must be positive, got %s", e.Op, e.Qty)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// InsufficientStockError carries the precise shortfall so callers can make
// partial-fulfillment decisions upstream.
type InsufficientStockError struct {
	Item      ItemID
	Location  LocationID
	Requested Quantity
	Available Quantity
	Shortfall Quantity
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s at %s: requested %s, available %s, short %s",
		e.Item, e.Location, e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AuthorityViolationError reports a (location, item) pair whose batch sum
// exceeds the stored balance.
type AuthorityViolationError struct {
	Item     ItemID
	Location LocationID
	Balance  Quantity
	BatchSum Quantity
}

func (e *AuthorityViolationError) Error() string {
	return fmt.Sprintf("balance authority violation at %s/%s: balance %s < batch sum %s",
		e.Location, e.Item, e.Balance, e.BatchSum)
}

func (e *AuthorityViolationError) Unwrap() error { return ErrBalanceAuthorityViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than system state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrBatchMismatch)
}

// IsConflict returns true if the error reflects a state conflict the
// caller may resolve by requesting less or retrying later.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrBatchRejected)
}
