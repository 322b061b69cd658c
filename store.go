package stepflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrExecutionNotFound is returned when an execution ID is unknown to the store.
var ErrExecutionNotFound = errors.New("execution not found")

// ErrVersionConflict is returned when an update loses a concurrent write
// race. The caller must re-read fresh state and re-validate before retrying;
// blindly reapplying the original mutation is exactly the behavior the
// version check exists to prevent.
var ErrVersionConflict = errors.New("execution version conflict")

// ExecutionSummary provides a summary view of a persisted execution.
type ExecutionSummary struct {
	ID           string          `json:"id"`
	WorkflowName string          `json:"workflow_name"`
	Subject      SubjectRef      `json:"subject"`
	CurrentStep  string          `json:"current_step"`
	Status       ExecutionStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ExecutionStore persists execution records. Updates are guarded by an
// optimistic version check: only one mutation may commit per execution
// version, and a losing writer observes ErrVersionConflict.
type ExecutionStore interface {
	// CreateExecution persists a new execution record.
	CreateExecution(ctx context.Context, execution *Execution) error

	// GetExecution loads an execution snapshot by ID.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// UpdateExecution writes the execution if its Version still matches the
	// stored record, then increments the version. On success the passed
	// execution reflects the committed version and update time.
	UpdateExecution(ctx context.Context, execution *Execution) error

	// ListExecutions returns summaries of all stored executions, most
	// recently updated first.
	ListExecutions(ctx context.Context) ([]*ExecutionSummary, error)
}

// MemoryStore is an in-process ExecutionStore. Suitable for tests and
// single-process embedding.
type MemoryStore struct {
	mutex      sync.RWMutex
	executions map[string]*Execution
}

// NewMemoryStore creates an empty in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: map[string]*Execution{}}
}

func (s *MemoryStore) CreateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return errors.New("execution already exists")
	}
	now := time.Now()
	execution.Version = 1
	execution.CreatedAt = now
	execution.UpdatedAt = now
	s.executions[execution.ID] = execution.Copy()
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return execution.Copy(), nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.executions[execution.ID]
	if !ok {
		return ErrExecutionNotFound
	}
	if stored.Version != execution.Version {
		return ErrVersionConflict
	}
	execution.Version++
	execution.UpdatedAt = time.Now()
	s.executions[execution.ID] = execution.Copy()
	return nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context) ([]*ExecutionSummary, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	summaries := make([]*ExecutionSummary, 0, len(s.executions))
	for _, execution := range s.executions {
		summaries = append(summaries, &ExecutionSummary{
			ID:           execution.ID,
			WorkflowName: execution.WorkflowName,
			Subject:      execution.Subject,
			CurrentStep:  execution.CurrentStep,
			Status:       execution.Status,
			CreatedAt:    execution.CreatedAt,
			UpdatedAt:    execution.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}
