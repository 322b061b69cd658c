package stepflow

import (
	"context"
	"time"
)

// AuditEntry mirrors one committed transition to an external audit sink.
// The execution's own History remains the source of truth; this sink exists
// for user-facing audit trails that outlive or aggregate executions.
type AuditEntry struct {
	ExecutionID  string    `json:"execution_id"`
	WorkflowName string    `json:"workflow_name"`
	Subject      string    `json:"subject"`
	FromStep     string    `json:"from_step"`
	ToStep       string    `json:"to_step"`
	Action       string    `json:"action"`
	Actor        *ActorRef `json:"actor,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuditLogger defines the append-only transition logging interface. No
// update or delete operation is exposed.
type AuditLogger interface {
	// LogTransition logs a committed transition.
	LogTransition(ctx context.Context, entry *AuditEntry) error

	// GetAuditTrail retrieves the audit trail for an execution.
	GetAuditTrail(ctx context.Context, executionID string) ([]*AuditEntry, error)
}
