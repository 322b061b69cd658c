package stepflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/stepflow-io/stepflow/retry"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Registry        *Registry
	Store           ExecutionStore
	AuditLogger     AuditLogger
	SubjectResolver SubjectResolver
	Logger          *slog.Logger

	// MaxCommitAttempts bounds how often a losing writer re-reads and
	// retries after a version conflict. Defaults to 5.
	MaxCommitAttempts int

	// CommitTimeout bounds the total time spent retrying a single mutation.
	// Defaults to 5 seconds.
	CommitTimeout time.Duration
}

// Engine is the runtime state machine for workflow executions. It is safe
// for concurrent use: every mutation is a read-modify-write against the
// store's optimistic version check, and reads operate on value snapshots.
type Engine struct {
	registry          *Registry
	store             ExecutionStore
	auditLogger       AuditLogger
	subjects          SubjectResolver
	logger            *slog.Logger
	maxCommitAttempts int
	commitTimeout     time.Duration
}

// NewEngine creates an engine with the given options, defaulting to an
// in-memory store, a fresh registry, and discarded logs.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = NewNullAuditLogger()
	}
	if opts.SubjectResolver == nil {
		opts.SubjectResolver = NewNullSubjectResolver()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxCommitAttempts <= 0 {
		opts.MaxCommitAttempts = 5
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 5 * time.Second
	}
	return &Engine{
		registry:          opts.Registry,
		store:             opts.Store,
		auditLogger:       opts.AuditLogger,
		subjects:          opts.SubjectResolver,
		logger:            opts.Logger,
		maxCommitAttempts: opts.MaxCommitAttempts,
		commitTimeout:     opts.CommitTimeout,
	}, nil
}

// RegisterWorkflow validates a definition and registers it by name.
func (e *Engine) RegisterWorkflow(def *Definition) error {
	if issues := ValidateDefinition(def); len(issues) > 0 {
		return NewDefinitionErrorWithDetails(
			fmt.Sprintf("workflow %q failed validation", def.Name()), issues)
	}
	return e.registry.Register(def)
}

// Registry returns the engine's definition registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Store returns the engine's execution store.
func (e *Engine) Store() ExecutionStore {
	return e.store
}

// CreateOptions configures a new execution.
type CreateOptions struct {
	ExecutionID    string
	AssignedActor  *ActorRef
	InitialContext map[string]any
}

// CreateExecutionFor creates and persists a new execution of the named
// workflow bound to the given subject, starting active at the initial step.
// Declared context keys with defaults are filled in; a required key with no
// value and no default is a context error.
func (e *Engine) CreateExecutionFor(ctx context.Context, workflowName string, subject SubjectRef, opts CreateOptions) (*Execution, error) {
	def, ok := e.registry.Get(workflowName)
	if !ok {
		return nil, NewDefinitionError("workflow %q is not registered", workflowName)
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = NewExecutionID()
	}

	executionContext := deepCopyContext(opts.InitialContext)
	if executionContext == nil {
		executionContext = map[string]any{}
	}
	for _, key := range def.ContextKeys() {
		if _, present := executionContext[key.Name]; present {
			continue
		}
		if key.Default != nil {
			executionContext[key.Name] = key.Default
		} else if key.Required {
			return nil, NewContextError("required context key %q is missing", key.Name)
		}
	}

	execution := &Execution{
		ID:            opts.ExecutionID,
		WorkflowName:  workflowName,
		Subject:       subject,
		CurrentStep:   def.InitialStep().Name,
		Status:        ExecutionStatusActive,
		Context:       executionContext,
		History:       []TransitionRecord{},
		AssignedActor: opts.AssignedActor,
	}
	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, NewExecutionError(err, "failed to create execution for %s", subject)
	}
	e.logger.Info("execution created",
		"execution_id", execution.ID,
		"workflow", workflowName,
		"subject", subject.String(),
		"initial_step", execution.CurrentStep)
	return execution, nil
}

// GetExecution loads an execution snapshot by ID.
func (e *Engine) GetExecution(ctx context.Context, id string) (*Execution, error) {
	execution, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return execution, nil
}

// AvailableActions returns the names of the current step's actions whose
// guard is absent or evaluates truthy against the execution context, in
// declaration order. Guard evaluation failures exclude the action silently:
// a broken guard must not crash an availability query. Pure and
// side-effect-free; safe to call unsynchronized against a snapshot.
func (e *Engine) AvailableActions(ctx context.Context, execution *Execution) []string {
	def, ok := e.registry.Get(execution.WorkflowName)
	if !ok {
		return nil
	}
	step, ok := def.Step(execution.CurrentStep)
	if !ok {
		return nil
	}
	var available []string
	for _, action := range step.Actions() {
		if evaluateGuard(ctx, action.Guard, execution.Context) {
			available = append(available, action.Name)
		}
	}
	return available
}

// ActionResult reports the outcome of a PerformAction call. Validation
// failures are results, not errors, because callers branch on them
// routinely; only commit-time failures surface as errors.
type ActionResult struct {
	Success   bool       `json:"success"`
	Errors    []string   `json:"errors,omitempty"`
	FromStep  string     `json:"from_step,omitempty"`
	ToStep    string     `json:"to_step,omitempty"`
	Completed bool       `json:"completed,omitempty"`
	Execution *Execution `json:"-"`
}

func failedResult(execution *Execution, reasons ...string) *ActionResult {
	return &ActionResult{
		Success:   false,
		Errors:    reasons,
		FromStep:  execution.CurrentStep,
		Execution: execution,
	}
}

// PerformAction validates and applies one guarded transition. Validation
// failure leaves the stored execution untouched and returns a failed result.
// On success the step change, context merge, actor assignment, and history
// append commit as one atomic versioned write; a losing concurrent writer
// re-reads fresh state and re-validates before retrying. A write that fails
// outright marks the execution failed and returns an execution error.
func (e *Engine) PerformAction(ctx context.Context, executionID, actionName string, actor *ActorRef, additionalContext map[string]any) (*ActionResult, error) {
	deadline := time.Now().Add(e.commitTimeout)
	backoff := 10 * time.Millisecond

	for attempt := 1; ; attempt++ {
		execution, err := e.store.GetExecution(ctx, executionID)
		if err != nil {
			return nil, NewExecutionError(err, "failed to load execution %q", executionID)
		}
		def, ok := e.registry.Get(execution.WorkflowName)
		if !ok {
			return nil, NewDefinitionError("workflow %q is not registered", execution.WorkflowName)
		}

		// Validation phase: any failure here returns with the stored record
		// byte-for-byte unchanged.
		if execution.Status != ExecutionStatusActive {
			return failedResult(execution,
				fmt.Sprintf("execution is %s; actions may only be performed while active", execution.Status)), nil
		}
		step, ok := def.Step(execution.CurrentStep)
		if !ok {
			return failedResult(execution,
				fmt.Sprintf("current step '%s' is not defined in workflow '%s'", execution.CurrentStep, def.Name())), nil
		}
		action, ok := step.Action(actionName)
		if !ok {
			return failedResult(execution,
				fmt.Sprintf("action '%s' is not defined on step '%s'", actionName, step.Name)), nil
		}
		if !evaluateGuard(ctx, action.Guard, execution.Context) {
			return failedResult(execution,
				fmt.Sprintf("action '%s' is not available from step '%s'", actionName, step.Name)), nil
		}
		if unmet := unmetEntryConditions(ctx, step, execution.Context); len(unmet) > 0 {
			return failedResult(execution, unmet...), nil
		}

		// Apply phase: produce the next value and attempt the atomic write.
		next := execution.Copy()
		next.Context = mergeContext(next.Context, additionalContext)
		if actor != nil {
			assigned := *actor
			next.AssignedActor = &assigned
		}
		record := TransitionRecord{
			FromStep:  execution.CurrentStep,
			ToStep:    action.TargetStep,
			Action:    actionName,
			Actor:     actor,
			Timestamp: time.Now(),
		}
		next.CurrentStep = action.TargetStep
		next.History = append(next.History, record)
		target, _ := def.Step(action.TargetStep)
		if target.Terminal() {
			next.Status = ExecutionStatusCompleted
		}

		err = e.store.UpdateExecution(ctx, next)
		if err == nil {
			e.logTransition(ctx, def, next, record)
			return &ActionResult{
				Success:   true,
				FromStep:  record.FromStep,
				ToStep:    record.ToStep,
				Completed: next.Status == ExecutionStatusCompleted,
				Execution: next,
			}, nil
		}

		retryable := errors.Is(err, ErrVersionConflict) || retry.IsRecoverable(err)
		if retryable && attempt < e.maxCommitAttempts && time.Now().Before(deadline) {
			e.logger.Debug("transition commit lost the race, retrying with fresh state",
				"execution_id", executionID, "action", actionName, "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil, NewExecutionError(ctx.Err(), "perform action '%s' canceled", actionName)
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		// The transition validated but could not be durably committed.
		e.markFailed(ctx, executionID, err)
		return nil, NewExecutionError(err, "perform action '%s' failed to commit", actionName)
	}
}

// Pause moves an active execution to paused. Operator-controlled; not
// driven by actions.
func (e *Engine) Pause(ctx context.Context, executionID string) (*Execution, error) {
	return e.updateExecution(ctx, executionID, func(execution *Execution) error {
		if execution.Status != ExecutionStatusActive {
			return NewTransitionError("cannot pause an execution that is %s", execution.Status)
		}
		execution.Status = ExecutionStatusPaused
		return nil
	})
}

// Resume moves a paused execution back to active.
func (e *Engine) Resume(ctx context.Context, executionID string) (*Execution, error) {
	return e.updateExecution(ctx, executionID, func(execution *Execution) error {
		if execution.Status != ExecutionStatusPaused {
			return NewTransitionError("cannot resume an execution that is %s", execution.Status)
		}
		execution.Status = ExecutionStatusActive
		return nil
	})
}

// ContextGet reads one context value from an execution snapshot.
func (e *Engine) ContextGet(execution *Execution, key string) (any, bool) {
	value, ok := execution.Context[key]
	return value, ok
}

// ContextMerge shallow-merges data into an execution's context, with keys
// in data winning, and commits the result.
func (e *Engine) ContextMerge(ctx context.Context, executionID string, data map[string]any) (*Execution, error) {
	return e.updateExecution(ctx, executionID, func(execution *Execution) error {
		execution.Context = mergeContext(execution.Context, data)
		return nil
	})
}

// History returns a copy of the execution's audit trail.
func (e *Engine) History(execution *Execution) []TransitionRecord {
	return copyHistory(execution.History)
}

// updateExecution applies mutate to a fresh snapshot and commits it,
// re-reading and retrying on version conflicts within the engine's commit
// bounds. The mutate function sees a copy; returning an error aborts
// without writing.
func (e *Engine) updateExecution(ctx context.Context, executionID string, mutate func(*Execution) error) (*Execution, error) {
	deadline := time.Now().Add(e.commitTimeout)
	backoff := 10 * time.Millisecond

	for attempt := 1; ; attempt++ {
		execution, err := e.store.GetExecution(ctx, executionID)
		if err != nil {
			return nil, err
		}
		next := execution.Copy()
		if err := mutate(next); err != nil {
			return nil, err
		}
		err = e.store.UpdateExecution(ctx, next)
		if err == nil {
			return next, nil
		}
		retryable := errors.Is(err, ErrVersionConflict) || retry.IsRecoverable(err)
		if retryable && attempt < e.maxCommitAttempts && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		return nil, NewExecutionError(err, "failed to commit execution update")
	}
}

// markFailed records a commit failure on the execution, best effort. The
// in-memory state returned to the caller reflects only what was durably
// committed.
func (e *Engine) markFailed(ctx context.Context, executionID string, cause error) {
	_, err := e.updateExecution(ctx, executionID, func(execution *Execution) error {
		execution.Status = ExecutionStatusFailed
		return nil
	})
	if err != nil {
		e.logger.Error("failed to mark execution as failed",
			"execution_id", executionID, "cause", cause, "error", err)
		return
	}
	e.logger.Error("execution marked as failed after commit failure",
		"execution_id", executionID, "cause", cause)
}

func (e *Engine) logTransition(ctx context.Context, def *Definition, execution *Execution, record TransitionRecord) {
	e.logger.Info("transition committed",
		"execution_id", execution.ID,
		"workflow", def.Name(),
		"action", record.Action,
		"from_step", record.FromStep,
		"to_step", record.ToStep,
		"status", execution.Status)
	entry := &AuditEntry{
		ExecutionID:  execution.ID,
		WorkflowName: def.Name(),
		Subject:      execution.Subject.String(),
		FromStep:     record.FromStep,
		ToStep:       record.ToStep,
		Action:       record.Action,
		Actor:        record.Actor,
		Timestamp:    record.Timestamp,
	}
	if err := e.auditLogger.LogTransition(ctx, entry); err != nil {
		e.logger.Error("failed to write audit entry",
			"execution_id", execution.ID, "error", err)
	}
}

// unmetEntryConditions evaluates a step's entry conditions against the
// context, returning one message per condition that does not hold.
func unmetEntryConditions(ctx context.Context, step *StepDefinition, data map[string]any) []string {
	var unmet []string
	for i, condition := range step.EntryConditions {
		if !evaluateGuard(ctx, condition, data) {
			unmet = append(unmet, fmt.Sprintf(
				"entry condition %d on step '%s' is not satisfied", i+1, step.Name))
		}
	}
	return unmet
}
