package stepflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors so callers can branch on them uniformly.
type ErrorKind string

const (
	// ErrorKindDefinition indicates a malformed definition: duplicate names,
	// dangling targets, unreachable steps. Critical, not retryable.
	ErrorKindDefinition ErrorKind = "definition_error"

	// ErrorKindTransition indicates an attempted action that is not
	// currently available, or unmet step entry conditions. Retryable by the
	// caller after fixing inputs.
	ErrorKindTransition ErrorKind = "transition_error"

	// ErrorKindContext indicates context that fails structural validation or
	// a missing required key.
	ErrorKindContext ErrorKind = "context_error"

	// ErrorKindPermission indicates an actor lacking authorization. The
	// check itself belongs to the caller; the kind exists so the failure
	// flows through the same taxonomy. Not retryable.
	ErrorKindPermission ErrorKind = "permission_error"

	// ErrorKindRecovery indicates a failed recovery operation: checkpoint
	// not found, checkpoint stale without force, or recovery blocked.
	ErrorKindRecovery ErrorKind = "recovery_error"

	// ErrorKindExecution indicates a transition that validated but failed to
	// commit. The execution is marked failed; generally retryable via
	// recovery.
	ErrorKindExecution ErrorKind = "execution_error"
)

// Severity ranks an error or integrity finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the structured error type used across the engine. It supports
// Go's error wrapping patterns with Unwrap().
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	Wrapped error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Severity returns the severity associated with the error's kind.
func (e *Error) Severity() Severity {
	switch e.Kind {
	case ErrorKindDefinition, ErrorKindRecovery:
		return SeverityCritical
	case ErrorKindTransition, ErrorKindContext:
		return SeverityHigh
	case ErrorKindExecution:
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

// Retryable reports whether the caller may reasonably retry the operation.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorKindTransition, ErrorKindExecution:
		return true
	default:
		return false
	}
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewDefinitionError creates a definition error.
func NewDefinitionError(format string, args ...any) *Error {
	return newError(ErrorKindDefinition, format, args...)
}

// NewDefinitionErrorWithDetails creates a definition error carrying the
// validator's issue list.
func NewDefinitionErrorWithDetails(message string, issues []string) *Error {
	return &Error{Kind: ErrorKindDefinition, Message: message, Details: issues}
}

// NewTransitionError creates a transition error.
func NewTransitionError(format string, args ...any) *Error {
	return newError(ErrorKindTransition, format, args...)
}

// NewContextError creates a context error.
func NewContextError(format string, args ...any) *Error {
	return newError(ErrorKindContext, format, args...)
}

// NewPermissionError creates a permission error.
func NewPermissionError(format string, args ...any) *Error {
	return newError(ErrorKindPermission, format, args...)
}

// NewRecoveryError creates a recovery error.
func NewRecoveryError(format string, args ...any) *Error {
	return newError(ErrorKindRecovery, format, args...)
}

// NewRecoveryBlockedError creates a recovery error carrying every blocking
// reason, so an operator sees all of them at once instead of just the first.
func NewRecoveryBlockedError(message string, blockers []string) *Error {
	return &Error{Kind: ErrorKindRecovery, Message: message, Details: blockers}
}

// NewExecutionError creates an execution error wrapping the commit failure.
func NewExecutionError(cause error, format string, args ...any) *Error {
	err := newError(ErrorKindExecution, format, args...)
	err.Wrapped = cause
	return err
}

// Classify converts an arbitrary error into an *Error. Errors already
// carrying a kind pass through unchanged; everything else is treated as a
// commit-time execution failure.
func Classify(err error) *Error {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return &Error{
		Kind:    ErrorKindExecution,
		Message: err.Error(),
		Wrapped: err,
	}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind == kind
	}
	return false
}
