package stepflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileCheckpointStore is a file-based CheckpointStore that persists each
// checkpoint as a JSON file under a per-execution directory.
type FileCheckpointStore struct {
	dataDir string
}

// NewFileCheckpointStore creates a file-based checkpoint store rooted at
// dataDir, defaulting to ~/.stepflow/checkpoints.
func NewFileCheckpointStore(dataDir string) (*FileCheckpointStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".stepflow", "checkpoints")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointStore{dataDir: dataDir}, nil
}

func (s *FileCheckpointStore) checkpointPath(executionID, checkpointID string) string {
	return filepath.Join(s.dataDir, executionID, fmt.Sprintf("checkpoint-%s.json", checkpointID))
}

func (s *FileCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	executionDir := filepath.Join(s.dataDir, checkpoint.ExecutionID)
	if err := os.MkdirAll(executionDir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path := s.checkpointPath(checkpoint.ExecutionID, checkpoint.ID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) GetCheckpoint(ctx context.Context, executionID, checkpointID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.checkpointPath(executionID, checkpointID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *FileCheckpointStore) ListCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	executionDir := filepath.Join(s.dataDir, executionID)
	entries, err := os.ReadDir(executionDir)
	if os.IsNotExist(err) {
		return []*Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution directory: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(executionDir, name))
		if err != nil {
			// Skip checkpoints we can't read
			continue
		}
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			continue
		}
		checkpoints = append(checkpoints, &checkpoint)
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

func (s *FileCheckpointStore) DeleteCheckpoints(ctx context.Context, executionID string) error {
	if err := os.RemoveAll(filepath.Join(s.dataDir, executionID)); err != nil {
		return fmt.Errorf("failed to delete execution directory: %w", err)
	}
	return nil
}
