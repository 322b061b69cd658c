package stepflow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutionCopy(t *testing.T) {
	actor := &ActorRef{Type: "User", ID: "alice"}
	original := &Execution{
		ID:           "exec-1",
		WorkflowName: "document-approval",
		Subject:      SubjectRef{Type: "Document", ID: "doc-1"},
		CurrentStep:  "under_review",
		Status:       ExecutionStatusActive,
		Context: map[string]any{
			"length": float64(60),
			"meta":   map[string]any{"author": "alice"},
		},
		History: []TransitionRecord{
			{FromStep: "draft", ToStep: "under_review", Action: "submit_for_review", Actor: actor, Timestamp: time.Now()},
		},
		AssignedActor: actor,
		Version:       3,
	}

	dup := original.Copy()
	require.Equal(t, original, dup)

	// Mutations of the copy must not leak back, including through nested
	// maps and shared actor pointers.
	dup.Context["length"] = float64(5)
	dup.Context["meta"].(map[string]any)["author"] = "mallory"
	dup.History[0].Actor.ID = "mallory"
	dup.AssignedActor.ID = "mallory"

	require.Equal(t, float64(60), original.Context["length"])
	require.Equal(t, "alice", original.Context["meta"].(map[string]any)["author"])
	require.Equal(t, "alice", original.History[0].Actor.ID)
	require.Equal(t, "alice", original.AssignedActor.ID)
}

func TestLastTransition(t *testing.T) {
	execution := &Execution{}
	require.Nil(t, execution.LastTransition())

	execution.History = []TransitionRecord{
		{FromStep: "draft", ToStep: "under_review", Action: "submit_for_review"},
		{FromStep: "under_review", ToStep: "approved", Action: "approve"},
	}
	last := execution.LastTransition()
	require.NotNil(t, last)
	require.Equal(t, "approve", last.Action)

	// The returned record is a copy.
	last.Action = "tampered"
	require.Equal(t, "approve", execution.History[1].Action)
}

func TestMergeContext(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	additional := map[string]any{"b": 20, "c": 30}

	merged := mergeContext(base, additional)
	require.Equal(t, map[string]any{"a": 1, "b": 20, "c": 30}, merged)

	// Neither input is mutated.
	require.Equal(t, map[string]any{"a": 1, "b": 2}, base)
	require.Equal(t, map[string]any{"b": 20, "c": 30}, additional)
}

func TestNewExecutionID(t *testing.T) {
	first := NewExecutionID()
	second := NewExecutionID()
	require.True(t, strings.HasPrefix(first, "exec_"))
	require.NotEqual(t, first, second)
}
