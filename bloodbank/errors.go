/*
errors.go - Error taxonomy for the allocation, routing and offer engines

ERROR CATEGORIES:
  1. Lookup errors   - ErrNotFound (also used for ownership mismatches)
  2. Ledger errors   - ErrInsufficientStock, ErrConflict, ErrDuplicateIdempotencyKey
  3. Workflow errors - ErrInvalidState, ErrForbidden
  4. Input errors    - ErrValidation
  5. Store errors    - ErrConcurrentModification

USAGE:
  Match with errors.Is; structured errors unwrap to their sentinel:

    var stockErr *bloodbank.InsufficientStockError
    if errors.As(err, &stockErr) {
        fmt.Println(stockErr.Available, stockErr.Requested)
    }
*/
package bloodbank

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an entity does not exist or does not
	// belong to the acting party.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a lot already exists for (blood type, location).
	ErrConflict = errors.New("conflict")

	// ErrInsufficientStock is returned when a withdrawal exceeds the total
	// units available for a blood type.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidState is returned when an offer or request is not in the
	// source state a transition needs.
	ErrInvalidState = errors.New("invalid state")

	// ErrForbidden is returned when the eligibility gate refuses a donor.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a keyed ledger delta was
	// already applied.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports the shortage behind a refused withdrawal.
type InsufficientStockError struct {
	BloodType BloodType
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.BloodType, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidStateError reports a transition attempted from the wrong state.
type InvalidStateError struct {
	Action  string
	Want    string
	Current string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("can only %s %s, current status: %s", e.Action, e.Want, e.Current)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the entity, not a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing or foreign entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
