package stepflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const executionsSchema = `
CREATE TABLE IF NOT EXISTS workflow_executions (
	id                  TEXT PRIMARY KEY,
	workflow_name       TEXT NOT NULL,
	subject_type        TEXT NOT NULL,
	subject_id          TEXT NOT NULL,
	current_step        TEXT NOT NULL,
	status              TEXT NOT NULL,
	context             JSONB NOT NULL DEFAULT '{}',
	history             JSONB NOT NULL DEFAULT '[]',
	assigned_actor_type TEXT,
	assigned_actor_id   TEXT,
	version             BIGINT NOT NULL DEFAULT 1,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_executions_subject_idx
	ON workflow_executions (subject_type, subject_id);
`

// PostgresStore is a Postgres-backed ExecutionStore. Concurrent mutations
// are serialized by an optimistic version check: the UPDATE only matches
// when the stored version equals the version the writer read.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing database handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the executions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, executionsSchema); err != nil {
		return fmt.Errorf("failed to create executions schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateExecution(ctx context.Context, execution *Execution) error {
	contextJSON, historyJSON, err := marshalExecutionBlobs(execution)
	if err != nil {
		return err
	}
	now := time.Now()
	execution.Version = 1
	execution.CreatedAt = now
	execution.UpdatedAt = now

	actorType, actorID := actorColumns(execution.AssignedActor)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(id, workflow_name, subject_type, subject_id, current_step, status,
			 context, history, assigned_actor_type, assigned_actor_id,
			 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		execution.ID, execution.WorkflowName,
		execution.Subject.Type, execution.Subject.ID,
		execution.CurrentStep, string(execution.Status),
		contextJSON, historyJSON, actorType, actorID,
		execution.Version, execution.CreatedAt, execution.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_name, subject_type, subject_id, current_step,
		       status, context, history, assigned_actor_type,
		       assigned_actor_id, version, created_at, updated_at
		FROM workflow_executions WHERE id = $1`, id)
	return scanExecution(row)
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, execution *Execution) error {
	contextJSON, historyJSON, err := marshalExecutionBlobs(execution)
	if err != nil {
		return err
	}
	updatedAt := time.Now()
	actorType, actorID := actorColumns(execution.AssignedActor)
	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET current_step = $1, status = $2, context = $3, history = $4,
		    assigned_actor_type = $5, assigned_actor_id = $6,
		    version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`,
		execution.CurrentStep, string(execution.Status),
		contextJSON, historyJSON, actorType, actorID,
		updatedAt, execution.ID, execution.Version)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Either the record is gone or a concurrent writer won the race.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`,
			execution.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check execution existence: %w", err)
		}
		if !exists {
			return ErrExecutionNotFound
		}
		return ErrVersionConflict
	}
	execution.Version++
	execution.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context) ([]*ExecutionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_name, subject_type, subject_id, current_step,
		       status, created_at, updated_at
		FROM workflow_executions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var summaries []*ExecutionSummary
	for rows.Next() {
		summary := &ExecutionSummary{}
		if err := rows.Scan(&summary.ID, &summary.WorkflowName,
			&summary.Subject.Type, &summary.Subject.ID,
			&summary.CurrentStep, &summary.Status,
			&summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func marshalExecutionBlobs(execution *Execution) (contextJSON, historyJSON []byte, err error) {
	contextData := execution.Context
	if contextData == nil {
		contextData = map[string]any{}
	}
	contextJSON, err = json.Marshal(contextData)
	if err != nil {
		return nil, nil, NewContextError("context is not serializable: %v", err)
	}
	historyData := execution.History
	if historyData == nil {
		historyData = []TransitionRecord{}
	}
	historyJSON, err = json.Marshal(historyData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return contextJSON, historyJSON, nil
}

func actorColumns(actor *ActorRef) (actorType, actorID sql.NullString) {
	if actor == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: actor.Type, Valid: true},
		sql.NullString{String: actor.ID, Valid: true}
}

func scanExecution(row *sql.Row) (*Execution, error) {
	execution := &Execution{}
	var status string
	var contextJSON, historyJSON []byte
	var actorType, actorID sql.NullString
	err := row.Scan(&execution.ID, &execution.WorkflowName,
		&execution.Subject.Type, &execution.Subject.ID,
		&execution.CurrentStep, &status, &contextJSON, &historyJSON,
		&actorType, &actorID, &execution.Version,
		&execution.CreatedAt, &execution.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}
	execution.Status = ExecutionStatus(status)
	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &execution.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if actorType.Valid && actorID.Valid {
		execution.AssignedActor = &ActorRef{Type: actorType.String, ID: actorID.String}
	}
	return execution, nil
}
