package stepflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CheckpointSummary is the checkpoint view included in diagnostics.
type CheckpointSummary struct {
	ID           string          `json:"id"`
	Label        string          `json:"label,omitempty"`
	CapturedStep string          `json:"captured_step"`
	Status       ExecutionStatus `json:"captured_status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Diagnostics is a point-in-time operator view of one execution: its state,
// integrity findings, checkpoints, available actions, and recent history.
type Diagnostics struct {
	GeneratedAt      time.Time            `json:"generated_at"`
	ExecutionID      string               `json:"execution_id"`
	WorkflowName     string               `json:"workflow_name"`
	Subject          SubjectRef           `json:"subject"`
	CurrentStep      string               `json:"current_step"`
	Status           ExecutionStatus      `json:"status"`
	AssignedActor    *ActorRef            `json:"assigned_actor,omitempty"`
	AvailableActions []string             `json:"available_actions"`
	Context          map[string]any       `json:"context"`
	Integrity        *IntegrityReport     `json:"integrity"`
	Checkpoints      []*CheckpointSummary `json:"checkpoints"`
	RecentHistory    []TransitionRecord   `json:"recent_history"`
}

// recentHistoryLimit bounds how many transitions diagnostics carry; the full
// trail is on the execution itself.
const recentHistoryLimit = 10

// CollectDiagnostics assembles a Diagnostics snapshot for an execution.
func (r *Recovery) CollectDiagnostics(ctx context.Context, executionID string) (*Diagnostics, error) {
	execution, err := r.engine.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	integrity, err := r.ValidateIntegrity(ctx, executionID)
	if err != nil {
		return nil, err
	}
	checkpoints, err := r.checkpoints.ListCheckpoints(ctx, executionID)
	if err != nil {
		return nil, err
	}
	summaries := make([]*CheckpointSummary, 0, len(checkpoints))
	for _, checkpoint := range checkpoints {
		summaries = append(summaries, &CheckpointSummary{
			ID:           checkpoint.ID,
			Label:        checkpoint.Label,
			CapturedStep: checkpoint.CapturedStep,
			Status:       checkpoint.CapturedStatus,
			CreatedAt:    checkpoint.CreatedAt,
		})
	}
	history := execution.History
	if len(history) > recentHistoryLimit {
		history = history[len(history)-recentHistoryLimit:]
	}
	return &Diagnostics{
		GeneratedAt:      time.Now(),
		ExecutionID:      execution.ID,
		WorkflowName:     execution.WorkflowName,
		Subject:          execution.Subject,
		CurrentStep:      execution.CurrentStep,
		Status:           execution.Status,
		AssignedActor:    execution.AssignedActor,
		AvailableActions: r.engine.AvailableActions(ctx, execution),
		Context:          execution.Context,
		Integrity:        integrity,
		Checkpoints:      summaries,
		RecentHistory:    copyHistory(history),
	}, nil
}

// ExportDiagnostics renders a diagnostics snapshot in the given format:
// "json" or "text".
func (r *Recovery) ExportDiagnostics(ctx context.Context, executionID, format string) (string, error) {
	diagnostics, err := r.CollectDiagnostics(ctx, executionID)
	if err != nil {
		return "", err
	}
	switch format {
	case "json":
		data, err := json.MarshalIndent(diagnostics, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal diagnostics: %w", err)
		}
		return string(data), nil
	case "text":
		return diagnostics.text(), nil
	default:
		return "", fmt.Errorf("unknown diagnostics format %q (want json or text)", format)
	}
}

func (d *Diagnostics) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution %s (%s)\n", d.ExecutionID, d.WorkflowName)
	fmt.Fprintf(&b, "  Subject:  %s\n", d.Subject)
	fmt.Fprintf(&b, "  Step:     %s\n", d.CurrentStep)
	fmt.Fprintf(&b, "  Status:   %s\n", d.Status)
	if d.AssignedActor != nil {
		fmt.Fprintf(&b, "  Actor:    %s\n", d.AssignedActor)
	}
	if len(d.AvailableActions) > 0 {
		fmt.Fprintf(&b, "  Actions:  %s\n", strings.Join(d.AvailableActions, ", "))
	} else {
		fmt.Fprintf(&b, "  Actions:  (none available)\n")
	}

	fmt.Fprintf(&b, "Integrity: ")
	if d.Integrity.IsValid {
		fmt.Fprintf(&b, "ok\n")
	} else {
		fmt.Fprintf(&b, "%d issue(s), severity %s\n", len(d.Integrity.Issues), d.Integrity.Severity)
		for _, issue := range d.Integrity.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
		for _, rec := range d.Integrity.Recommendations {
			fmt.Fprintf(&b, "  > %s\n", rec)
		}
	}

	fmt.Fprintf(&b, "Checkpoints: %d\n", len(d.Checkpoints))
	for _, checkpoint := range d.Checkpoints {
		label := checkpoint.Label
		if label == "" {
			label = "(unlabeled)"
		}
		fmt.Fprintf(&b, "  - %s  %s  step=%s  %s\n",
			checkpoint.ID, checkpoint.CreatedAt.Format(time.RFC3339), checkpoint.CapturedStep, label)
	}

	fmt.Fprintf(&b, "Recent history: %d transition(s)\n", len(d.RecentHistory))
	for _, record := range d.RecentHistory {
		actor := ""
		if record.Actor != nil {
			actor = " by " + record.Actor.String()
		}
		fmt.Fprintf(&b, "  - %s  %s: %s -> %s%s\n",
			record.Timestamp.Format(time.RFC3339), record.Action, record.FromStep, record.ToStep, actor)
	}
	return b.String()
}
