/*
errors.go - Error taxonomy for the timeclock engine

PURPOSE:
  All error kinds in one place. Callers branch on the four sentinels
  with errors.Is; structured errors carry context and unwrap to them.

TAXONOMY:
  ErrValidation - malformed input, start >= stop, non-positive shift
  ErrNotFound   - entry/project/owner missing or not owned by caller
  ErrConflict   - single-open-entry or linked-boundary violation,
                  including races lost against a concurrent transaction
  (anything else is an internal storage failure, surfaced as-is)

  None of the first three ever leaves partial state behind: domain
  validation happens before commit, and constraint violations roll
  the whole transaction back.

USAGE:
  if timeclock.IsConflict(err) {
      // retry or surface 409
  }
*/
package timeclock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input-validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entry, project, or
	// owner does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation would violate the
	// single-open-entry invariant or a linked-boundary invariant.
	ErrConflict = errors.New("conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field of the input was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing resource.
type NotFoundError struct {
	Kind string // "entry", "project", "owner"
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError explains which invariant the operation would break.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewOpenEntryConflict is the conflict stores report when an insert or
// update would leave a second open entry for the owner. The controller
// treats it as a lost race and retries up to MaxStartAttempts.
func NewOpenEntryConflict(ownerID int64) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf("owner %d already has an open entry", ownerID)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether err is an input-validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err indicates a missing or unowned resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err indicates an invariant violation or
// a lost concurrency race.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
