package stepflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Run("message carries the kind", func(t *testing.T) {
		err := NewTransitionError("action %q is not available", "approve")
		require.EqualError(t, err, `transition_error: action "approve" is not available`)
	})

	t.Run("severity and retryability derive from the kind", func(t *testing.T) {
		cases := []struct {
			err       *Error
			severity  Severity
			retryable bool
		}{
			{NewDefinitionError("bad"), SeverityCritical, false},
			{NewTransitionError("bad"), SeverityHigh, true},
			{NewContextError("bad"), SeverityHigh, false},
			{NewPermissionError("bad"), SeverityMedium, false},
			{NewRecoveryError("bad"), SeverityCritical, false},
			{NewExecutionError(errors.New("io"), "bad"), SeverityMedium, true},
		}
		for _, c := range cases {
			t.Run(string(c.err.Kind), func(t *testing.T) {
				require.Equal(t, c.severity, c.err.Severity())
				require.Equal(t, c.retryable, c.err.Retryable())
			})
		}
	})

	t.Run("execution errors unwrap to their cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := NewExecutionError(cause, "commit failed")
		require.ErrorIs(t, err, cause)

		wrapped := fmt.Errorf("outer: %w", err)
		require.True(t, IsKind(wrapped, ErrorKindExecution))
	})

	t.Run("definition errors carry the issue list", func(t *testing.T) {
		err := NewDefinitionErrorWithDetails("workflow failed validation",
			[]string{"Step 'c' is unreachable"})
		require.Equal(t, []string{"Step 'c' is unreachable"}, err.Details)
	})

	t.Run("blocked recovery carries every blocker", func(t *testing.T) {
		err := NewRecoveryBlockedError("recovery is blocked",
			[]string{"execution is completed", "subject cannot be resolved"})
		require.True(t, IsKind(err, ErrorKindRecovery))
		require.Len(t, err.Details, 2)
	})
}

func TestClassify(t *testing.T) {
	t.Run("typed errors pass through", func(t *testing.T) {
		original := NewContextError("required key missing")
		classified := Classify(fmt.Errorf("wrapped: %w", original))
		require.Same(t, original, classified)
	})

	t.Run("plain errors become execution errors", func(t *testing.T) {
		cause := errors.New("disk full")
		classified := Classify(cause)
		require.Equal(t, ErrorKindExecution, classified.Kind)
		require.ErrorIs(t, classified, cause)
	})
}

func TestIsKind(t *testing.T) {
	require.True(t, IsKind(NewTransitionError("x"), ErrorKindTransition))
	require.False(t, IsKind(NewTransitionError("x"), ErrorKindContext))
	require.False(t, IsKind(errors.New("plain"), ErrorKindTransition))
}
