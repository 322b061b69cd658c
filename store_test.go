package stepflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func storedExecution(id string) *Execution {
	return &Execution{
		ID:           id,
		WorkflowName: "document-approval",
		Subject:      SubjectRef{Type: "Document", ID: "doc-" + id},
		CurrentStep:  "draft",
		Status:       ExecutionStatusActive,
		Context:      map[string]any{"length": float64(10)},
		History:      []TransitionRecord{},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create assigns version 1 and timestamps", func(t *testing.T) {
		store := NewMemoryStore()
		execution := storedExecution("e1")
		require.NoError(t, store.CreateExecution(ctx, execution))
		require.Equal(t, int64(1), execution.Version)
		require.False(t, execution.CreatedAt.IsZero())

		loaded, err := store.GetExecution(ctx, "e1")
		require.NoError(t, err)
		require.Equal(t, "draft", loaded.CurrentStep)
	})

	t.Run("create rejects a duplicate ID", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateExecution(ctx, storedExecution("e1")))
		require.Error(t, store.CreateExecution(ctx, storedExecution("e1")))
	})

	t.Run("get returns an independent snapshot", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateExecution(ctx, storedExecution("e1")))

		first, err := store.GetExecution(ctx, "e1")
		require.NoError(t, err)
		first.Context["length"] = float64(999)
		first.CurrentStep = "tampered"

		second, err := store.GetExecution(ctx, "e1")
		require.NoError(t, err)
		require.Equal(t, "draft", second.CurrentStep)
		require.Equal(t, float64(10), second.Context["length"])
	})

	t.Run("get unknown ID", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.GetExecution(ctx, "nope")
		require.ErrorIs(t, err, ErrExecutionNotFound)
	})

	t.Run("update commits only at the stored version", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateExecution(ctx, storedExecution("e1")))

		first, err := store.GetExecution(ctx, "e1")
		require.NoError(t, err)
		second, err := store.GetExecution(ctx, "e1")
		require.NoError(t, err)

		first.CurrentStep = "under_review"
		require.NoError(t, store.UpdateExecution(ctx, first))
		require.Equal(t, int64(2), first.Version)

		// The stale snapshot loses.
		second.CurrentStep = "approved"
		require.ErrorIs(t, store.UpdateExecution(ctx, second), ErrVersionConflict)

		loaded, err := store.GetExecution(ctx, "e1")
		require.NoError(t, err)
		require.Equal(t, "under_review", loaded.CurrentStep)
		require.Equal(t, int64(2), loaded.Version)
	})

	t.Run("update unknown ID", func(t *testing.T) {
		store := NewMemoryStore()
		require.ErrorIs(t, store.UpdateExecution(ctx, storedExecution("ghost")), ErrExecutionNotFound)
	})

	t.Run("list returns summaries newest first", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.CreateExecution(ctx, storedExecution("e1")))
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, store.CreateExecution(ctx, storedExecution("e2")))

		summaries, err := store.ListExecutions(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "e2", summaries[0].ID)
		require.Equal(t, "e1", summaries[1].ID)
	})
}
