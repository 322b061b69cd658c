package stepflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, store ExecutionStore) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineOptions{Store: store})
	require.NoError(t, err)
	require.NoError(t, engine.RegisterWorkflow(approvalDefinition(t)))
	return engine
}

func createApprovalExecution(t *testing.T, engine *Engine, initial map[string]any) *Execution {
	t.Helper()
	execution, err := engine.CreateExecutionFor(context.Background(), "document-approval",
		SubjectRef{Type: "Document", ID: "doc-1"},
		CreateOptions{InitialContext: initial})
	require.NoError(t, err)
	return execution
}

func TestCreateExecutionFor(t *testing.T) {
	ctx := context.Background()

	t.Run("starts active at the initial step", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 10})
		require.NotEmpty(t, execution.ID)
		require.Equal(t, "draft", execution.CurrentStep)
		require.Equal(t, ExecutionStatusActive, execution.Status)
		require.Empty(t, execution.History)

		stored, err := engine.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		require.Equal(t, int64(1), stored.Version)
	})

	t.Run("fills declared context defaults", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, nil)
		require.Equal(t, "normal", execution.Context["priority"])
	})

	t.Run("caller values win over defaults", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, map[string]any{"priority": "urgent"})
		require.Equal(t, "urgent", execution.Context["priority"])
	})

	t.Run("missing required key without default is a context error", func(t *testing.T) {
		def, err := DefineWorkflow("strict", func(b *WorkflowBuilder) {
			b.ContextKey(ContextKey{Name: "owner", Required: true})
			b.Step("start", nil)
		})
		require.NoError(t, err)
		engine, err := NewEngine(EngineOptions{})
		require.NoError(t, err)
		require.NoError(t, engine.RegisterWorkflow(def))

		_, err = engine.CreateExecutionFor(ctx, "strict", SubjectRef{Type: "Doc", ID: "d"}, CreateOptions{})
		require.Error(t, err)
		require.True(t, IsKind(err, ErrorKindContext))
	})

	t.Run("unregistered workflow is a definition error", func(t *testing.T) {
		engine, err := NewEngine(EngineOptions{})
		require.NoError(t, err)
		_, err = engine.CreateExecutionFor(ctx, "nope", SubjectRef{Type: "Doc", ID: "d"}, CreateOptions{})
		require.Error(t, err)
		require.True(t, IsKind(err, ErrorKindDefinition))
	})
}

func TestAvailableActions(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)

	t.Run("guard excludes the action until the context satisfies it", func(t *testing.T) {
		execution := createApprovalExecution(t, engine, map[string]any{"length": 10})
		require.Empty(t, engine.AvailableActions(ctx, execution))

		updated, err := engine.ContextMerge(ctx, execution.ID, map[string]any{"length": 60})
		require.NoError(t, err)
		require.Equal(t, []string{"submit_for_review"}, engine.AvailableActions(ctx, updated))
	})

	t.Run("unguarded actions appear in declaration order", func(t *testing.T) {
		execution := createApprovalExecution(t, engine, map[string]any{"length": 60})
		result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", nil, nil)
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Equal(t, []string{"approve", "reject"}, engine.AvailableActions(ctx, result.Execution))
	})
}

func TestPerformAction(t *testing.T) {
	ctx := context.Background()

	t.Run("applies the transition and appends history", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 60})

		actor := &ActorRef{Type: "User", ID: "alice"}
		result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", actor,
			map[string]any{"submitted": true})
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Equal(t, "draft", result.FromStep)
		require.Equal(t, "under_review", result.ToStep)
		require.False(t, result.Completed)

		stored, err := engine.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		require.Equal(t, "under_review", stored.CurrentStep)
		require.Equal(t, ExecutionStatusActive, stored.Status)
		require.Equal(t, true, stored.Context["submitted"])
		require.Equal(t, actor, stored.AssignedActor)
		require.Len(t, stored.History, 1)
		require.Equal(t, "draft", stored.History[0].FromStep)
		require.Equal(t, "under_review", stored.History[0].ToStep)
		require.Equal(t, "submit_for_review", stored.History[0].Action)
		require.Equal(t, actor, stored.History[0].Actor)
		require.False(t, stored.History[0].Timestamp.IsZero())
	})

	t.Run("validation failure leaves the stored record untouched", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 10})
		before, err := engine.GetExecution(ctx, execution.ID)
		require.NoError(t, err)

		result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", nil,
			map[string]any{"should_not": "persist"})
		require.NoError(t, err)
		require.False(t, result.Success)
		require.NotEmpty(t, result.Errors)

		after, err := engine.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		require.Equal(t, before, after)
	})

	t.Run("unknown action is a failed result", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 60})
		result, err := engine.PerformAction(ctx, execution.ID, "launch", nil, nil)
		require.NoError(t, err)
		require.False(t, result.Success)
		require.Contains(t, result.Errors[0], "'launch' is not defined")
	})

	t.Run("reaching a terminal step completes the execution", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 60})

		result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", nil, nil)
		require.NoError(t, err)
		require.True(t, result.Success)

		result, err = engine.PerformAction(ctx, execution.ID, "approve", nil, nil)
		require.NoError(t, err)
		require.True(t, result.Success)
		require.True(t, result.Completed)
		require.Equal(t, ExecutionStatusCompleted, result.Execution.Status)

		// Terminal means no further actions, ever.
		result, err = engine.PerformAction(ctx, execution.ID, "approve", nil, nil)
		require.NoError(t, err)
		require.False(t, result.Success)
		require.Contains(t, result.Errors[0], "completed")
	})

	t.Run("history stays a contiguous chain across transitions", func(t *testing.T) {
		engine := newTestEngine(t, nil)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 60})

		for _, action := range []string{"submit_for_review", "reject", "submit_for_review", "approve"} {
			result, err := engine.PerformAction(ctx, execution.ID, action, nil, nil)
			require.NoError(t, err)
			require.True(t, result.Success, "action %s: %v", action, result.Errors)
		}

		stored, err := engine.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		require.Len(t, stored.History, 4)
		require.Equal(t, "draft", stored.History[0].FromStep)
		for i := 1; i < len(stored.History); i++ {
			require.Equal(t, stored.History[i-1].ToStep, stored.History[i].FromStep)
			require.False(t, stored.History[i].Timestamp.Before(stored.History[i-1].Timestamp))
		}
		require.Empty(t, historyChainIssues("draft", stored.History))
	})

	t.Run("unmet entry conditions on the current step block every action", func(t *testing.T) {
		def, err := DefineWorkflow("gated", func(b *WorkflowBuilder) {
			b.Step("start", func(s *StepBuilder) {
				s.EntryConditionExpr(`context["ready"] == true`)
				s.Action("go", "done")
			})
			b.Step("done", nil)
		})
		require.NoError(t, err)
		engine, err := NewEngine(EngineOptions{})
		require.NoError(t, err)
		require.NoError(t, engine.RegisterWorkflow(def))
		execution, err := engine.CreateExecutionFor(ctx, "gated",
			SubjectRef{Type: "Order", ID: "o-1"}, CreateOptions{})
		require.NoError(t, err)

		result, err := engine.PerformAction(ctx, execution.ID, "go", nil, nil)
		require.NoError(t, err)
		require.False(t, result.Success)
		require.Contains(t, result.Errors[0], "entry condition 1 on step 'start'")

		_, err = engine.ContextMerge(ctx, execution.ID, map[string]any{"ready": true})
		require.NoError(t, err)
		result, err = engine.PerformAction(ctx, execution.ID, "go", nil, nil)
		require.NoError(t, err)
		require.True(t, result.Success)
	})

	t.Run("retries after a version conflict and succeeds", func(t *testing.T) {
		flaky := &flakyStore{ExecutionStore: NewMemoryStore(), conflicts: 1}
		engine := newTestEngine(t, flaky)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 60})

		result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", nil, nil)
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Equal(t, 2, flaky.updateCalls)

		stored, err := engine.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		require.Equal(t, "under_review", stored.CurrentStep)
	})

	t.Run("hard commit failure marks the execution failed", func(t *testing.T) {
		flaky := &flakyStore{ExecutionStore: NewMemoryStore(), hardFailures: 1}
		engine := newTestEngine(t, flaky)
		execution := createApprovalExecution(t, engine, map[string]any{"length": 60})

		_, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", nil, nil)
		require.Error(t, err)
		require.True(t, IsKind(err, ErrorKindExecution))

		stored, err := engine.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusFailed, stored.Status)
		require.Equal(t, "draft", stored.CurrentStep)
		require.Empty(t, stored.History)
	})
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)
	execution := createApprovalExecution(t, engine, map[string]any{"length": 60})

	paused, err := engine.Pause(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusPaused, paused.Status)

	result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", nil, nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Errors[0], "paused")

	_, err = engine.Pause(ctx, execution.ID)
	require.Error(t, err)
	require.True(t, IsKind(err, ErrorKindTransition))

	resumed, err := engine.Resume(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusActive, resumed.Status)

	result, err = engine.PerformAction(ctx, execution.ID, "submit_for_review", nil, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestContextOperations(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, nil)
	execution := createApprovalExecution(t, engine, map[string]any{"length": 10, "title": "Q3 report"})

	t.Run("get reads a value from a snapshot", func(t *testing.T) {
		value, ok := engine.ContextGet(execution, "title")
		require.True(t, ok)
		require.Equal(t, "Q3 report", value)

		_, ok = engine.ContextGet(execution, "missing")
		require.False(t, ok)
	})

	t.Run("merge is shallow and incoming keys win", func(t *testing.T) {
		updated, err := engine.ContextMerge(ctx, execution.ID, map[string]any{
			"length": 60,
			"tags":   []any{"finance"},
		})
		require.NoError(t, err)
		require.EqualValues(t, 60, updated.Context["length"])
		require.Equal(t, "Q3 report", updated.Context["title"])
		require.Equal(t, []any{"finance"}, updated.Context["tags"])
	})

	t.Run("history accessor returns an independent copy", func(t *testing.T) {
		result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", nil, nil)
		require.NoError(t, err)
		require.True(t, result.Success)

		history := engine.History(result.Execution)
		require.Len(t, history, 1)
		history[0].Action = "tampered"
		require.Equal(t, "submit_for_review", result.Execution.History[0].Action)
	})
}

// flakyStore wraps a real store and injects failures on UpdateExecution:
// first `conflicts` calls return ErrVersionConflict, then `hardFailures`
// calls return a permanent error, then calls pass through.
type flakyStore struct {
	ExecutionStore
	conflicts    int
	hardFailures int
	updateCalls  int
}

func (s *flakyStore) UpdateExecution(ctx context.Context, execution *Execution) error {
	s.updateCalls++
	if s.conflicts > 0 {
		s.conflicts--
		return ErrVersionConflict
	}
	if s.hardFailures > 0 {
		s.hardFailures--
		return errors.New("disk quota exceeded")
	}
	return s.ExecutionStore.UpdateExecution(ctx, execution)
}
