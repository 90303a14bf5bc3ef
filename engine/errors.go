/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is against the sentinels, or errors.As
  against the structured types when they need the details.

ERROR CATEGORIES:
  1. Validation - malformed policy, period or distribution request
  2. Workflow - transition attempted from the wrong state
  3. Dependency - metrics source, store or wallet unreachable
  4. Lookup - club, policy or record does not exist

RETRY SEMANTICS:
  Most failures mean "nothing happened" and the whole operation can be
  retried. The one exception is approval: if the wallet was (or may have
  been) credited but the record could not be marked APPROVED, the error is
  a DependencyError with Ambiguous set. Retrying approval is still safe
  because the gateway deduplicates on RecordKey.IdempotencyKey().

SEE ALSO:
  - workflow.go: Produces the workflow errors
  - api/handlers.go: Maps these errors to HTTP status codes
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
	// ErrValidation is the root of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a club, policy or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyLocked is returned when locking (or recalculating) a record
	// that is already locked.
	ErrAlreadyLocked = errors.New("record already locked")

	// ErrAlreadyApproved is returned when approving (or recalculating) a
	// record whose reward was already distributed.
	ErrAlreadyApproved = errors.New("record already approved")

	// ErrInvalidTransition is returned for transitions that skip a state,
	// e.g. approving a record that was never locked.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDependencyUnavailable is returned when a collaborator cannot be reached.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrDuplicateIdempotencyKey is returned by ledger stores when a
	// transaction with the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateDistribution is returned by gateways that already
	// performed a distribution for the request's idempotency key.
	ErrDuplicateDistribution = errors.New("distribution already performed")

	// ErrConcurrentModification is returned by stores when a compare-and-set
	// transition finds the record in a different state than expected.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the field at fault.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing object.
type NotFoundError struct {
	Kind string // "club", "policy", "record"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadyLockedError is returned when the record is LOCKED or APPROVED and
// the requested action needs it unlocked.
type AlreadyLockedError struct {
	Key   RecordKey
	State RecordState
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("activity record %s is already locked (state %s)", e.Key, e.State)
}

func (e *AlreadyLockedError) Unwrap() error { return ErrAlreadyLocked }

// AlreadyApprovedError is returned when the record's reward was already
// distributed.
type AlreadyApprovedError struct {
	Key RecordKey
}

func (e *AlreadyApprovedError) Error() string {
	return fmt.Sprintf("activity record %s is already approved", e.Key)
}

func (e *AlreadyApprovedError) Unwrap() error { return ErrAlreadyApproved }

// TransitionError is returned when the record is not in the state the
// transition starts from.
type TransitionError struct {
	Key  RecordKey
	From RecordState
	To   RecordState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("activity record %s cannot move from %s to %s", e.Key, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DependencyError wraps a failure of an external collaborator.
//
// Ambiguous is set when the collaborator may have applied the effect
// anyway (timeout after send, or wallet credited but state not persisted).
type DependencyError struct {
	Dependency string
	Ambiguous  bool
	Err        error
}

func (e *DependencyError) Error() string {
	msg := e.Dependency + " unavailable"
	if e.Ambiguous {
		msg += " (outcome unknown, reconcile by idempotency key)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DependencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDependencyUnavailable}
	}
	return []error{ErrDependencyUnavailable, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetrySafe returns true if the failed operation had no effect and the
// caller can simply repeat it.
func IsRetrySafe(err error) bool {
	if err == nil {
		return false
	}
	if NeedsReconcile(err) {
		return false
	}
	return errors.Is(err, ErrDependencyUnavailable) || errors.Is(err, ErrConcurrentModification)
}

// NeedsReconcile returns true if the operation may have partially happened.
// Only approval produces such errors.
func NeedsReconcile(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr) && depErr.Ambiguous
}

// IsClientError returns true if the error is due to invalid client input
// or a request that conflicts with the record's current state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadyLocked) ||
		errors.Is(err, ErrAlreadyApproved) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
