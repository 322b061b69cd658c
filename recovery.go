package stepflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// RecoveryStrategy selects how a damaged or stuck execution is brought back
// to a workable state.
type RecoveryStrategy string

const (
	// RecoveryAuto picks a strategy: retry_last for failed executions with a
	// prior transition, else rollback to the nearest safe step, else reset
	// to the initial step.
	RecoveryAuto RecoveryStrategy = "auto"

	// RecoveryRollback jumps to the nearest designated safe step found by
	// scanning history in reverse.
	RecoveryRollback RecoveryStrategy = "rollback"

	// RecoveryReset jumps to an explicit target step.
	RecoveryReset RecoveryStrategy = "reset"

	// RecoveryRetryLast re-enters the origin step of the last transition.
	// The retried action is not replayed: its guard is re-evaluated against
	// fresh context on the next PerformAction.
	RecoveryRetryLast RecoveryStrategy = "retry_last"

	// RecoveryManual creates a checkpoint and returns instructions without
	// mutating the execution further.
	RecoveryManual RecoveryStrategy = "manual"
)

// RecoveryOptions configures a Recovery subsystem.
type RecoveryOptions struct {
	Engine      *Engine
	Checkpoints CheckpointStore
	Logger      *slog.Logger

	// MaxCheckpointAge is the staleness window beyond which a checkpoint is
	// rejected for restoration without force. Defaults to 24 hours.
	MaxCheckpointAge time.Duration
}

// Recovery provides checkpointing, integrity validation, auto-repair, and
// guided rollback for executions. It participates in the same atomic
// mutation discipline as PerformAction: every state overwrite is a
// versioned write that loses cleanly to concurrent writers.
type Recovery struct {
	engine           *Engine
	checkpoints      CheckpointStore
	logger           *slog.Logger
	maxCheckpointAge time.Duration
}

// NewRecovery creates a Recovery bound to an engine.
func NewRecovery(opts RecoveryOptions) (*Recovery, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = NewMemoryCheckpointStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxCheckpointAge <= 0 {
		opts.MaxCheckpointAge = 24 * time.Hour
	}
	return &Recovery{
		engine:           opts.Engine,
		checkpoints:      opts.Checkpoints,
		logger:           opts.Logger,
		maxCheckpointAge: opts.MaxCheckpointAge,
	}, nil
}

// CreateCheckpoint deep-copies the execution's step, status, context, and
// history into a new checkpoint and returns its ID. The execution itself is
// never mutated.
func (r *Recovery) CreateCheckpoint(ctx context.Context, executionID, label string) (string, error) {
	execution, err := r.engine.GetExecution(ctx, executionID)
	if err != nil {
		return "", err
	}
	checkpoint := NewCheckpoint(execution, label)
	if err := r.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
		return "", NewRecoveryError("failed to save checkpoint: %v", err)
	}
	r.logger.Info("checkpoint created",
		"execution_id", executionID,
		"checkpoint_id", checkpoint.ID,
		"label", label,
		"step", checkpoint.CapturedStep)
	return checkpoint.ID, nil
}

// ListCheckpoints returns all checkpoints for an execution, newest first.
func (r *Recovery) ListCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	return r.checkpoints.ListCheckpoints(ctx, executionID)
}

// RestoreFromCheckpoint overwrites the execution's step, status, context,
// and history with a checkpoint's captured values. Unless force is set,
// checkpoints older than the staleness window or missing captured context
// are rejected. Restoration is itself undoable: an automatic backup
// checkpoint of the current state is taken first.
func (r *Recovery) RestoreFromCheckpoint(ctx context.Context, executionID, checkpointID string, force bool) (*Execution, error) {
	checkpoint, err := r.checkpoints.GetCheckpoint(ctx, executionID, checkpointID)
	if err != nil {
		return nil, NewRecoveryError("failed to load checkpoint '%s': %v", checkpointID, err)
	}
	if checkpoint == nil {
		return nil, NewRecoveryError("checkpoint '%s' not found for execution '%s'", checkpointID, executionID)
	}
	if !force {
		if checkpoint.Age() > r.maxCheckpointAge {
			return nil, NewRecoveryError(
				"checkpoint '%s' is stale (%s old, limit %s); use force to restore anyway",
				checkpointID, checkpoint.Age().Round(time.Second), r.maxCheckpointAge)
		}
		if checkpoint.CapturedContext == nil {
			return nil, NewRecoveryError(
				"checkpoint '%s' is missing captured context; use force to restore anyway", checkpointID)
		}
	}

	backupID, err := r.CreateCheckpoint(ctx, executionID,
		fmt.Sprintf("automatic backup before restore of %s", checkpointID))
	if err != nil {
		return nil, err
	}

	restored, err := r.engine.updateExecution(ctx, executionID, func(execution *Execution) error {
		execution.CurrentStep = checkpoint.CapturedStep
		execution.Status = checkpoint.CapturedStatus
		execution.Context = deepCopyContext(checkpoint.CapturedContext)
		execution.History = copyHistory(checkpoint.CapturedHistory)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("execution restored from checkpoint",
		"execution_id", executionID,
		"checkpoint_id", checkpointID,
		"backup_checkpoint_id", backupID,
		"step", restored.CurrentStep,
		"status", restored.Status)
	return restored, nil
}

// IntegrityReport is the result of validating an execution's structural
// consistency.
type IntegrityReport struct {
	IsValid         bool     `json:"is_valid"`
	Issues          []string `json:"issues"`
	Severity        Severity `json:"severity"`
	Recommendations []string `json:"recommendations"`
}

// ValidateIntegrity checks an execution for structural damage: context that
// cannot be serialized, gaps in the history chain, a current step missing
// from the definition, and an unresolvable subject reference.
func (r *Recovery) ValidateIntegrity(ctx context.Context, executionID string) (*IntegrityReport, error) {
	execution, err := r.engine.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var issues, recommendations []string

	if _, err := json.Marshal(execution.Context); err != nil {
		issues = append(issues, fmt.Sprintf("context is corrupted: not serializable (%v)", err))
		recommendations = append(recommendations, "restore from a checkpoint taken before the corruption")
	}

	def, defFound := r.engine.registry.Get(execution.WorkflowName)
	if !defFound {
		issues = append(issues, fmt.Sprintf("workflow definition '%s' is missing from the registry", execution.WorkflowName))
		recommendations = append(recommendations, fmt.Sprintf("register workflow '%s' at process start before recovering", execution.WorkflowName))
	} else {
		step, stepFound := def.Step(execution.CurrentStep)
		if !stepFound {
			issues = append(issues, fmt.Sprintf(
				"current step '%s' is not defined in workflow '%s'", execution.CurrentStep, def.Name()))
			recommendations = append(recommendations, "run auto-repair to reset the execution to its initial step")
		} else if execution.Status == ExecutionStatusCompleted && !step.Terminal() {
			issues = append(issues, fmt.Sprintf(
				"status is completed but step '%s' is not terminal", step.Name))
			recommendations = append(recommendations, "recover with the reset strategy to a valid step")
		}
		if chainIssues := historyChainIssues(def.InitialStep().Name, execution.History); len(chainIssues) > 0 {
			issues = append(issues, chainIssues...)
			recommendations = append(recommendations, "restore from the most recent checkpoint with an intact history")
		}
	}

	if err := r.engine.subjects.ResolveSubject(ctx, execution.Subject); err != nil {
		issues = append(issues, fmt.Sprintf("broken subject reference '%s': %v", execution.Subject, err))
		recommendations = append(recommendations, "verify the subject entity exists or archive the execution")
	}

	return &IntegrityReport{
		IsValid:         len(issues) == 0,
		Issues:          issues,
		Severity:        severityForIssues(issues),
		Recommendations: recommendations,
	}, nil
}

// severityForIssues derives a severity from the issue list: critical when
// any issue mentions corruption, missing data, or broken/invalid
// references; otherwise scaled by issue count.
func severityForIssues(issues []string) Severity {
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		if strings.Contains(lower, "corrupt") ||
			strings.Contains(lower, "missing") ||
			strings.Contains(lower, "broken") ||
			strings.Contains(lower, "invalid reference") {
			return SeverityCritical
		}
	}
	switch {
	case len(issues) >= 3:
		return SeverityHigh
	case len(issues) == 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// RepairReport lists the repairs applied by AutoRepair.
type RepairReport struct {
	Repairs []string `json:"repairs"`
}

// AutoRepair applies only safe, reversible fixes: a current step missing
// from the definition is reset to the initial step, a nil context map is
// initialized, and declared required context keys are filled with their
// declared defaults. Nothing else is ever fabricated. Running it again on a
// repaired execution produces an empty repair list.
func (r *Recovery) AutoRepair(ctx context.Context, executionID string) (*RepairReport, error) {
	execution, err := r.engine.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	def, ok := r.engine.registry.Get(execution.WorkflowName)
	if !ok {
		return nil, NewRecoveryError(
			"cannot repair execution '%s': workflow '%s' is not registered",
			executionID, execution.WorkflowName)
	}

	// Dry pass on the snapshot first so a no-op repair never bumps the
	// stored version.
	if repairs := applyRepairs(def, execution); len(repairs) == 0 {
		return &RepairReport{Repairs: []string{}}, nil
	}

	var repairs []string
	if _, err := r.engine.updateExecution(ctx, executionID, func(execution *Execution) error {
		repairs = applyRepairs(def, execution)
		return nil
	}); err != nil {
		return nil, err
	}
	for _, repair := range repairs {
		r.logger.Info("auto-repair applied", "execution_id", executionID, "repair", repair)
	}
	return &RepairReport{Repairs: repairs}, nil
}

func applyRepairs(def *Definition, execution *Execution) []string {
	var repairs []string
	if execution.Context == nil {
		execution.Context = map[string]any{}
		repairs = append(repairs, "initialized missing context map")
	}
	if _, ok := def.Step(execution.CurrentStep); !ok {
		initial := def.InitialStep().Name
		repairs = append(repairs, fmt.Sprintf(
			"reset current step from undefined '%s' to initial step '%s'", execution.CurrentStep, initial))
		execution.CurrentStep = initial
	}
	for _, key := range def.ContextKeys() {
		if !key.Required || key.Default == nil {
			continue
		}
		if _, present := execution.Context[key.Name]; !present {
			execution.Context[key.Name] = key.Default
			repairs = append(repairs, fmt.Sprintf(
				"filled required context key '%s' with its declared default", key.Name))
		}
	}
	return repairs
}

// RecoveryResult reports the outcome of a Recover call.
type RecoveryResult struct {
	Strategy     RecoveryStrategy `json:"strategy"`
	CheckpointID string           `json:"checkpoint_id,omitempty"`
	FromStep     string           `json:"from_step"`
	ToStep       string           `json:"to_step"`
	Instructions []string         `json:"instructions,omitempty"`
}

// Recover brings an execution back to a workable state using the given
// strategy. Every strategy except manual creates a checkpoint before
// mutating, so recovery itself is checkpointed. Recovery refuses to run
// while blockers exist (completed status, corrupted context, an unresolvable
// subject, or a missing definition) and reports all of them at once. Force
// bypasses only the completed-status blocker.
func (r *Recovery) Recover(ctx context.Context, executionID string, strategy RecoveryStrategy, targetStep string, force bool) (*RecoveryResult, error) {
	execution, err := r.engine.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	def, defFound := r.engine.registry.Get(execution.WorkflowName)

	var blockers []string
	if execution.Status == ExecutionStatusCompleted && !force {
		blockers = append(blockers, "execution is completed; recovery would discard a finished process")
	}
	if _, err := json.Marshal(execution.Context); err != nil {
		blockers = append(blockers, fmt.Sprintf("context is corrupted: not serializable (%v)", err))
	}
	if err := r.engine.subjects.ResolveSubject(ctx, execution.Subject); err != nil {
		blockers = append(blockers, fmt.Sprintf("subject '%s' cannot be resolved: %v", execution.Subject, err))
	}
	if !defFound {
		blockers = append(blockers, fmt.Sprintf("workflow definition '%s' cannot be found", execution.WorkflowName))
	}
	if len(blockers) > 0 {
		return nil, NewRecoveryBlockedError(
			fmt.Sprintf("recovery of execution '%s' is blocked", executionID), blockers)
	}

	resolved := strategy
	if resolved == RecoveryAuto {
		resolved = r.pickAutoStrategy(def, execution)
		if resolved == RecoveryReset && targetStep == "" {
			targetStep = def.InitialStep().Name
		}
		r.logger.Info("auto recovery strategy selected",
			"execution_id", executionID, "strategy", resolved)
	}

	if resolved == RecoveryManual {
		checkpointID, err := r.CreateCheckpoint(ctx, executionID, "manual recovery checkpoint")
		if err != nil {
			return nil, err
		}
		return &RecoveryResult{
			Strategy:     RecoveryManual,
			CheckpointID: checkpointID,
			FromStep:     execution.CurrentStep,
			ToStep:       execution.CurrentStep,
			Instructions: manualInstructions(execution, checkpointID),
		}, nil
	}

	// Plan the jump against the snapshot before touching anything.
	toStep, truncateTo, err := r.planJump(def, execution, resolved, targetStep)
	if err != nil {
		return nil, err
	}

	checkpointID, err := r.CreateCheckpoint(ctx, executionID, fmt.Sprintf("pre-recovery (%s)", resolved))
	if err != nil {
		return nil, err
	}

	fromStep := execution.CurrentStep
	updated, err := r.engine.updateExecution(ctx, executionID, func(execution *Execution) error {
		execution.CurrentStep = toStep
		execution.Status = ExecutionStatusActive
		if truncateTo >= 0 && truncateTo <= len(execution.History) {
			execution.History = execution.History[:truncateTo]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("execution recovered",
		"execution_id", executionID,
		"strategy", resolved,
		"from_step", fromStep,
		"to_step", updated.CurrentStep,
		"checkpoint_id", checkpointID)
	return &RecoveryResult{
		Strategy:     resolved,
		CheckpointID: checkpointID,
		FromStep:     fromStep,
		ToStep:       updated.CurrentStep,
	}, nil
}

// pickAutoStrategy chooses retry_last for failed executions with at least
// one prior transition, rollback when a designated safe step exists in
// history, and reset to the initial step otherwise.
func (r *Recovery) pickAutoStrategy(def *Definition, execution *Execution) RecoveryStrategy {
	if execution.Status == ExecutionStatusFailed && len(execution.History) > 0 {
		return RecoveryRetryLast
	}
	if _, _, ok := nearestSafeStep(def, execution.History); ok {
		return RecoveryRollback
	}
	return RecoveryReset
}

// planJump determines the destination step and the history truncation point
// for a strategy. History is truncated so that the audit trail remains
// gap-free after the jump; the pre-recovery checkpoint preserves the full
// trail. truncateTo of -1 leaves history untouched.
func (r *Recovery) planJump(def *Definition, execution *Execution, strategy RecoveryStrategy, targetStep string) (string, int, error) {
	switch strategy {
	case RecoveryRollback:
		if step, index, ok := nearestSafeStep(def, execution.History); ok {
			return step, index, nil
		}
		// No safe step behind us; fall back to the initial step.
		return def.InitialStep().Name, 0, nil

	case RecoveryReset:
		if targetStep == "" {
			return "", 0, NewRecoveryError("reset strategy requires a target step")
		}
		if _, ok := def.Step(targetStep); !ok {
			return "", 0, NewRecoveryError(
				"reset target step '%s' is not defined in workflow '%s'", targetStep, def.Name())
		}
		for i := len(execution.History) - 1; i >= 0; i-- {
			if execution.History[i].ToStep == targetStep {
				return targetStep, i + 1, nil
			}
		}
		return targetStep, 0, nil

	case RecoveryRetryLast:
		last := execution.LastTransition()
		if last == nil {
			return "", 0, NewRecoveryError("retry_last requires at least one prior transition")
		}
		return last.FromStep, len(execution.History) - 1, nil

	default:
		return "", 0, NewRecoveryError("unknown recovery strategy '%s'", strategy)
	}
}

// nearestSafeStep scans history newest-to-oldest for the closest step
// marked as a safe point, returning the step name and the history length to
// keep after jumping to it.
func nearestSafeStep(def *Definition, history []TransitionRecord) (string, int, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		step, ok := def.Step(history[i].FromStep)
		if ok && step.SafePoint {
			return step.Name, i, true
		}
	}
	return "", 0, false
}

func manualInstructions(execution *Execution, checkpointID string) []string {
	return []string{
		fmt.Sprintf("A checkpoint of the current state was created: %s.", checkpointID),
		fmt.Sprintf("The execution is at step '%s' with status '%s'.", execution.CurrentStep, execution.Status),
		"Inspect the context and history with ExportDiagnostics before mutating anything.",
		"Use RestoreFromCheckpoint to return to a known-good snapshot, or Recover with an explicit strategy (rollback, reset, retry_last) once the cause is understood.",
	}
}
