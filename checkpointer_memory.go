package stepflow

import (
	"context"
	"sort"
	"sync"
)

// MemoryCheckpointStore is an in-process CheckpointStore.
type MemoryCheckpointStore struct {
	mutex       sync.RWMutex
	checkpoints map[string][]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: map[string][]*Checkpoint{}}
}

func (s *MemoryCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.checkpoints[checkpoint.ExecutionID] = append(s.checkpoints[checkpoint.ExecutionID], checkpoint)
	return nil
}

func (s *MemoryCheckpointStore) GetCheckpoint(ctx context.Context, executionID, checkpointID string) (*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, checkpoint := range s.checkpoints[executionID] {
		if checkpoint.ID == checkpointID {
			return checkpoint, nil
		}
	}
	return nil, nil
}

func (s *MemoryCheckpointStore) ListCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stored := s.checkpoints[executionID]
	checkpoints := make([]*Checkpoint, len(stored))
	copy(checkpoints, stored)
	sort.SliceStable(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

func (s *MemoryCheckpointStore) DeleteCheckpoints(ctx context.Context, executionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.checkpoints, executionID)
	return nil
}
