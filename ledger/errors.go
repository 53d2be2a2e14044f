/*
errors.go - Centralized error types for the chips engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - Bad input, rejected synchronously, never retried
  2. Duplicate source refs - Not failures: replays return the existing entry
  3. Conflict errors - Retried internally with bounded attempts
  4. Not-found errors - Unknown user or badge, surfaced as 404

SEE ALSO:
  - ledger.go: Uses these errors on the append path
  - engine.go: Maps ErrDuplicateSourceRef into replay semantics
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an entry's amount is zero.
	ErrInvalidAmount = errors.New("invalid amount: must be non-zero")

	// ErrInvalidReason is returned when a reason is outside the enumerated set.
	ErrInvalidReason = errors.New("invalid reason")

	// ErrMissingSourceRef is returned when a reason that requires a source
	// reference arrives without one.
	ErrMissingSourceRef = errors.New("source ref required for this reason")

	// ErrDuplicateSourceRef is returned by stores when (userID, reason,
	// sourceRef) already exists. The engine resolves it by returning the
	// existing entry; callers retrying a timeout never double-credit.
	ErrDuplicateSourceRef = errors.New("duplicate source ref")

	// ErrUnknownUser is returned when the target user is not registered.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownBadge is returned when a badge id is not in the catalog.
	ErrUnknownBadge = errors.New("unknown badge")

	// ErrUnknownReferral is returned when a referral edge does not exist.
	ErrUnknownReferral = errors.New("unknown referral")

	// ErrAccountClosed is returned for non-admin appends to a closed account.
	ErrAccountClosed = errors.New("account closed")

	// ErrSelfReferral is returned when referrer and referee are the same user.
	ErrSelfReferral = errors.New("self referral not allowed")

	// ErrAlreadyAttributed is returned when a referee already has a referrer.
	// First attribution wins.
	ErrAlreadyAttributed = errors.New("referee already attributed")

	// ErrConcurrentModification is returned when optimistic concurrency
	// detects a conflicting projection write.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected append request.
type ValidationError struct {
	Field   string
	Message string
	wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.wrapped }

func newValidationError(field, message string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Message: message, wrapped: wrapped}
}

// DuplicateEntryError carries the pre-existing entry for a replayed append.
type DuplicateEntryError struct {
	Existing Entry
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("entry already exists: %s (%s/%s)", e.Existing.ID, e.Existing.Reason, e.Existing.SourceRef)
}

func (e *DuplicateEntryError) Unwrap() error { return ErrDuplicateSourceRef }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidReason) ||
		errors.Is(err, ErrMissingSourceRef)
}

// IsConflict returns true if the error indicates the request clashes with
// existing state rather than being malformed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, ErrAlreadyAttributed) ||
		errors.Is(err, ErrAccountClosed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrUnknownBadge) ||
		errors.Is(err, ErrUnknownReferral)
}
