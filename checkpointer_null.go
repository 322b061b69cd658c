package stepflow

import "context"

// NullCheckpointStore is a no-op implementation. Saves are discarded and
// lookups find nothing.
type NullCheckpointStore struct{}

func NewNullCheckpointStore() *NullCheckpointStore {
	return &NullCheckpointStore{}
}

func (s *NullCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}

func (s *NullCheckpointStore) GetCheckpoint(ctx context.Context, executionID, checkpointID string) (*Checkpoint, error) {
	return nil, nil
}

func (s *NullCheckpointStore) ListCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	return nil, nil
}

func (s *NullCheckpointStore) DeleteCheckpoints(ctx context.Context, executionID string) error {
	return nil
}
