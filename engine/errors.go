/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores wrap driver failures in SourceUnavailableError, the API maps the
  categories below onto HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors - Missing dates, unknown levels, malformed filters
  2. Source errors - Fact/catalog/reference store unreachable (retryable)
  3. Integrity errors - Loan conservation violated (result still served)

USAGE:
  if engine.IsRetryable(err) {
      w.Header().Set("Retry-After", ...)
  }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP responses
*/
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for any malformed query or filter.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPeriod is returned when the end date precedes the start date.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrSourceUnavailable is returned when a backing store cannot be read.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrConservationViolation is returned when lent and borrowed totals differ.
	ErrConservationViolation = errors.New("loan conservation violated")

	// ErrNodeNotFound is returned when a hierarchy node doesn't exist.
	ErrNodeNotFound = errors.New("hierarchy node not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field. Err, when set, is the
// more specific sentinel the rejection stands for.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// SourceUnavailableError wraps a failure of the fact, catalog or reference store.
type SourceUnavailableError struct {
	Source     string
	RetryAfter time.Duration
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SourceUnavailableError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// ConservationError reports the totals that failed to balance.
type ConservationError struct {
	Lent     decimal.Decimal
	Borrowed decimal.Decimal
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("loan conservation violated: lent %s, borrowed %s",
		e.Lent.StringFixed(2), e.Borrowed.StringFixed(2))
}

func (e *ConservationError) Unwrap() error {
	return ErrConservationViolation
}

// unavailable wraps err as a SourceUnavailableError unless it already is one,
// or is a validation or lookup failure.
func unavailable(source string, retryAfter time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNodeNotFound) {
		return err
	}
	return &SourceUnavailableError{Source: source, RetryAfter: retryAfter, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// RetryAfter extracts the retry hint from a SourceUnavailableError.
func RetryAfter(err error) time.Duration {
	var sue *SourceUnavailableError
	if errors.As(err, &sue) {
		return sue.RetryAfter
	}
	return 0
}
