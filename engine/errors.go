/*
errors.go - Centralized error types and the data-quality warning taxonomy

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - Rejected at write time, name the violated rule
  2. Data-integrity issues - Surfaced as Warnings, never fatal on reads
  3. Reconciliation errors - Reported by the verifier, never auto-fixed
  4. Store errors - Persistence-level failures

USAGE:
  Domain packages wrap sentinels:

    if errors.Is(err, engine.ErrDuplicateIdempotencyKey) {
        // already posted, safe to ignore on retry
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - building/verify.go: Emits Warnings in verification reports
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when a month range is malformed (to before from).
	ErrInvalidRange = errors.New("invalid range: to before from")

	// ErrStoreRequired is returned when an operation needs a capability the
	// configured store doesn't implement (e.g., atomic units of work).
	ErrStoreRequired = errors.New("operation requires extended store interface")

	// ErrChainMismatch is returned by repair operations when discrepancies
	// remain after recalculation.
	ErrChainMismatch = errors.New("carry-forward chain mismatch")
)

// =============================================================================
// VALIDATION ERRORS - Write-time rejections naming the violated rule
// =============================================================================

// ValidationError rejects a write that violates a data invariant.
// Rule is a stable machine-readable identifier; Message explains it.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s", e.Rule, e.Message)
}

func NewValidationError(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// WARNINGS - Non-fatal data-quality findings
// =============================================================================

// Warning records a data-quality issue detected on a read path. Warnings
// ride along with best-effort results instead of failing the request.
type Warning struct {
	Code    string
	Message string
}

func (w Warning) String() string { return w.Code + ": " + w.Message }

func NewWarning(code, format string, args ...any) Warning {
	return Warning{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Warning codes emitted by the engine.
const (
	WarnZeroDenominator      = "zero_denominator"
	WarnMillsSum             = "mills_sum_mismatch"
	WarnOrphanPayment        = "payment_without_transaction"
	WarnMissingPrevBalance   = "missing_previous_balance"
	WarnMissingRateConfig    = "missing_rate_config"
	WarnClosedMonthRecompute = "closed_month_recomputed"
)
