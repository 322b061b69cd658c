package stepflow

import (
	"time"

	"go.jetify.com/typeid"
)

// NewCheckpointID returns a new prefixed ID for checkpoint identification.
func NewCheckpointID() string {
	id, err := typeid.WithPrefix("chkpt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Checkpoint is a deep, independent snapshot of an execution's mutable
// state. Later mutation of the live execution never alters a checkpoint.
type Checkpoint struct {
	ID              string             `json:"id"`
	ExecutionID     string             `json:"execution_id"`
	WorkflowName    string             `json:"workflow_name"`
	Label           string             `json:"label,omitempty"`
	CapturedStep    string             `json:"captured_step"`
	CapturedStatus  ExecutionStatus    `json:"captured_status"`
	CapturedContext map[string]any     `json:"captured_context"`
	CapturedHistory []TransitionRecord `json:"captured_history"`
	CreatedAt       time.Time          `json:"created_at"`
}

// NewCheckpoint captures a snapshot of the execution under a generated ID.
// The execution itself is not mutated.
func NewCheckpoint(execution *Execution, label string) *Checkpoint {
	return &Checkpoint{
		ID:              NewCheckpointID(),
		ExecutionID:     execution.ID,
		WorkflowName:    execution.WorkflowName,
		Label:           label,
		CapturedStep:    execution.CurrentStep,
		CapturedStatus:  execution.Status,
		CapturedContext: deepCopyContext(execution.Context),
		CapturedHistory: copyHistory(execution.History),
		CreatedAt:       time.Now(),
	}
}

// Age returns how long ago the checkpoint was captured.
func (c *Checkpoint) Age() time.Duration {
	return time.Since(c.CreatedAt)
}
