package stepflow

import (
	"encoding/json"
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new prefixed ID for execution identification.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status.
type ExecutionStatus string

const (
	ExecutionStatusActive    ExecutionStatus = "active"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusPaused    ExecutionStatus = "paused"
)

// SubjectRef is an opaque reference to the domain entity a workflow
// execution governs. The entity itself is owned by the caller.
type SubjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r SubjectRef) String() string {
	return r.Type + "/" + r.ID
}

// ActorRef is an opaque reference to the actor performing an action.
type ActorRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r ActorRef) String() string {
	return r.Type + "/" + r.ID
}

// TransitionRecord is one committed transition in an execution's audit
// trail. Records are immutable once appended; their order is the append
// order, not the timestamp order.
type TransitionRecord struct {
	FromStep  string    `json:"from_step"`
	ToStep    string    `json:"to_step"`
	Action    string    `json:"action"`
	Actor     *ActorRef `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Execution is one workflow instance bound to a domain entity. It is a
// value snapshot: the engine mutates executions by producing a new value and
// attempting an atomic versioned write, never by assigning into a shared
// live object.
type Execution struct {
	ID            string             `json:"id"`
	WorkflowName  string             `json:"workflow_name"`
	Subject       SubjectRef         `json:"subject"`
	CurrentStep   string             `json:"current_step"`
	Status        ExecutionStatus    `json:"status"`
	Context       map[string]any     `json:"context"`
	History       []TransitionRecord `json:"history"`
	AssignedActor *ActorRef          `json:"assigned_actor,omitempty"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Copy returns a deep, independent copy of the execution. Mutating the copy
// never affects the original.
func (e *Execution) Copy() *Execution {
	dup := *e
	dup.Context = deepCopyContext(e.Context)
	dup.History = copyHistory(e.History)
	if e.AssignedActor != nil {
		actor := *e.AssignedActor
		dup.AssignedActor = &actor
	}
	return &dup
}

// LastTransition returns the most recent history record, or nil when the
// execution has not transitioned yet.
func (e *Execution) LastTransition() *TransitionRecord {
	if len(e.History) == 0 {
		return nil
	}
	record := e.History[len(e.History)-1]
	return &record
}

// deepCopyContext deep-copies a context map by round-tripping it through
// JSON. Context is JSON-serializable by contract; if it is not, the copy
// degrades to a shallow one and integrity validation will flag the context
// as structurally unsound.
func deepCopyContext(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return copyMap(m)
	}
	var dup map[string]any
	if err := json.Unmarshal(data, &dup); err != nil {
		return copyMap(m)
	}
	return dup
}

// copyMap creates a shallow copy of a map.
func copyMap(m map[string]any) map[string]any {
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}

// copyHistory copies a history slice, including actor references.
func copyHistory(history []TransitionRecord) []TransitionRecord {
	if history == nil {
		return nil
	}
	dup := make([]TransitionRecord, len(history))
	copy(dup, history)
	for i := range dup {
		if dup[i].Actor != nil {
			actor := *dup[i].Actor
			dup[i].Actor = &actor
		}
	}
	return dup
}

// mergeContext shallow-merges additional entries over base. Keys in
// additional win. Neither input map is mutated.
func mergeContext(base, additional map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(additional))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range additional {
		merged[k] = v
	}
	return merged
}
