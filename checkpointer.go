package stepflow

import "context"

// CheckpointStore persists checkpoints keyed by execution.
type CheckpointStore interface {
	// SaveCheckpoint stores a checkpoint.
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// GetCheckpoint loads one checkpoint of an execution by ID. Returns
	// (nil, nil) when no such checkpoint exists.
	GetCheckpoint(ctx context.Context, executionID, checkpointID string) (*Checkpoint, error)

	// ListCheckpoints returns all checkpoints for an execution, newest first.
	ListCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error)

	// DeleteCheckpoints removes all checkpoint data for an execution.
	DeleteCheckpoints(ctx context.Context, executionID string) error
}
