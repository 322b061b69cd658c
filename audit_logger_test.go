package stepflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileAuditLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewFileAuditLogger(t.TempDir())

	actor := &ActorRef{Type: "User", ID: "alice"}
	first := &AuditEntry{
		ExecutionID:  "exec-1",
		WorkflowName: "document-approval",
		Subject:      "Document/doc-1",
		FromStep:     "draft",
		ToStep:       "under_review",
		Action:       "submit_for_review",
		Actor:        actor,
		Timestamp:    time.Now().UTC().Truncate(time.Second),
	}
	second := &AuditEntry{
		ExecutionID:  "exec-1",
		WorkflowName: "document-approval",
		Subject:      "Document/doc-1",
		FromStep:     "under_review",
		ToStep:       "approved",
		Action:       "approve",
		Timestamp:    first.Timestamp.Add(time.Minute),
	}
	require.NoError(t, logger.LogTransition(ctx, first))
	require.NoError(t, logger.LogTransition(ctx, second))

	// A transition for another execution lands in its own trail.
	require.NoError(t, logger.LogTransition(ctx, &AuditEntry{
		ExecutionID: "exec-2",
		FromStep:    "draft",
		ToStep:      "under_review",
		Action:      "submit_for_review",
		Timestamp:   first.Timestamp,
	}))

	trail, err := logger.GetAuditTrail(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, first, trail[0])
	require.Equal(t, second, trail[1])
}

func TestEnginePublishesAuditEntries(t *testing.T) {
	ctx := context.Background()
	logger := NewFileAuditLogger(t.TempDir())
	engine, err := NewEngine(EngineOptions{AuditLogger: logger})
	require.NoError(t, err)
	require.NoError(t, engine.RegisterWorkflow(approvalDefinition(t)))

	execution := createApprovalExecution(t, engine, map[string]any{"length": 60})
	actor := &ActorRef{Type: "User", ID: "bob"}
	result, err := engine.PerformAction(ctx, execution.ID, "submit_for_review", actor, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	trail, err := logger.GetAuditTrail(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, "document-approval", trail[0].WorkflowName)
	require.Equal(t, "Document/doc-1", trail[0].Subject)
	require.Equal(t, "draft", trail[0].FromStep)
	require.Equal(t, "under_review", trail[0].ToStep)
	require.Equal(t, "submit_for_review", trail[0].Action)
	require.Equal(t, actor, trail[0].Actor)
}

func TestNullAuditLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewNullAuditLogger()
	require.NoError(t, logger.LogTransition(ctx, &AuditEntry{ExecutionID: "exec-1"}))

	trail, err := logger.GetAuditTrail(ctx, "exec-1")
	require.NoError(t, err)
	require.Empty(t, trail)
}
