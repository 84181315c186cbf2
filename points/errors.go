/*
errors.go - Error types for the point engine

ERROR CATEGORIES:
  1. Validation errors - bad input rejected before any write
  2. Not-found errors - referenced customer, entry or period is missing
  3. Conflict errors - overlapping runs, double cancellation
  4. Storage errors - wrapped with context, never swallowed

Per-document failures during a batch pass are NOT returned to the caller.
They are logged, counted in RunResult.Failed and the document stays due.

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package points

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCustomer is returned when a customer code is missing.
	ErrInvalidCustomer = errors.New("customer code is required")

	// ErrInvalidPoints is returned for non-positive point amounts.
	ErrInvalidPoints = errors.New("points must be greater than zero")

	// ErrInvalidDocNo is returned when a request names no ledger document.
	ErrInvalidDocNo = errors.New("doc number is required")

	// ErrInsufficientPoints is returned when a redemption exceeds the balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrCustomerNotFound is returned when the customer master has no such code.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrDocumentNotFound is returned when a source document disappeared.
	ErrDocumentNotFound = errors.New("source document not found")

	// ErrEntryNotFound is returned when a ledger document does not exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrRedemptionNotFound is returned when cancel-use targets something
	// that is not a redemption.
	ErrRedemptionNotFound = errors.New("redemption entry not found")

	// ErrAlreadyCancelled is returned when a redemption was already cancelled.
	ErrAlreadyCancelled = errors.New("redemption already cancelled")

	// ErrRunInProgress is returned when a batch pass is already running.
	ErrRunInProgress = errors.New("point processing already in progress")

	// ErrInvalidPeriod is returned for malformed eligibility periods.
	ErrInvalidPeriod = errors.New("invalid period: start date must not be after end date")

	// ErrPeriodNotFound is returned when an eligibility period does not exist.
	ErrPeriodNotFound = errors.New("eligibility period not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientPointsError carries the balance that blocked a redemption.
type InsufficientPointsError struct {
	CustCode  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points for %s: available %s, requested %s",
		e.CustCode, e.Available.String(), e.Requested.String())
}

func (e *InsufficientPointsError) Unwrap() error {
	return ErrInsufficientPoints
}

// DocumentError wraps a failure while processing one source document.
type DocumentError struct {
	DocNo   string
	DocType DocType
	Err     error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("process %s %s: %v", e.DocType, e.DocNo, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCustomer) ||
		errors.Is(err, ErrInvalidPoints) ||
		errors.Is(err, ErrInvalidDocNo) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrRedemptionNotFound) ||
		errors.Is(err, ErrPeriodNotFound)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRunInProgress) ||
		errors.Is(err, ErrAlreadyCancelled)
}
