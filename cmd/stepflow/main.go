package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	stepflow "github.com/stepflow-io/stepflow"
)

var (
	flagDSN            string
	flagDefinitionsDir string
	flagCheckpointsDir string
	flagAuditDir       string
	flagVerbose        bool
	flagJSON           bool
)

func main() {
	root := &cobra.Command{
		Use:           "stepflow",
		Short:         "Operate workflow executions: validate, inspect, checkpoint, recover",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDSN, "dsn", os.Getenv("STEPFLOW_DSN"), "Postgres DSN for the execution store")
	root.PersistentFlags().StringVar(&flagDefinitionsDir, "definitions", "", "Directory of YAML workflow definitions")
	root.PersistentFlags().StringVar(&flagCheckpointsDir, "checkpoints-dir", "", "Directory for checkpoint storage (default ~/.stepflow/checkpoints)")
	root.PersistentFlags().StringVar(&flagAuditDir, "audit-dir", "", "Directory for audit trail files (optional)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&flagJSON, "json-logs", false, "Write logs as JSON")

	root.AddCommand(validateCommand())
	root.AddCommand(inspectCommand())
	root.AddCommand(checkpointsCommand())
	root.AddCommand(recoverCommand())
	root.AddCommand(diagnosticsCommand())

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	if flagJSON {
		return stepflow.NewJSONLogger()
	}
	if flagVerbose {
		return stepflow.NewDebugLogger()
	}
	return stepflow.NewLogger()
}

// loadDefinitions builds a registry from every YAML file in the definitions
// directory.
func loadDefinitions(registry *stepflow.Registry) error {
	if flagDefinitionsDir == "" {
		return fmt.Errorf("a definitions directory is required (--definitions)")
	}
	matches, err := filepath.Glob(filepath.Join(flagDefinitionsDir, "*.yaml"))
	if err != nil {
		return err
	}
	more, err := filepath.Glob(filepath.Join(flagDefinitionsDir, "*.yml"))
	if err != nil {
		return err
	}
	matches = append(matches, more...)
	if len(matches) == 0 {
		return fmt.Errorf("no workflow definitions found in %s", flagDefinitionsDir)
	}
	for _, path := range matches {
		def, err := stepflow.LoadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// setup wires the engine and recovery subsystem against the Postgres store
// and the file checkpoint store.
func setup(ctx context.Context) (*stepflow.Engine, *stepflow.Recovery, func(), error) {
	if flagDSN == "" {
		return nil, nil, nil, fmt.Errorf("a Postgres DSN is required (--dsn or STEPFLOW_DSN)")
	}
	registry := stepflow.NewRegistry()
	if err := loadDefinitions(registry); err != nil {
		return nil, nil, nil, err
	}
	store, err := stepflow.NewPostgresStore(flagDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	var auditLogger stepflow.AuditLogger
	if flagAuditDir != "" {
		auditLogger = stepflow.NewFileAuditLogger(flagAuditDir)
	}
	engine, err := stepflow.NewEngine(stepflow.EngineOptions{
		Registry:    registry,
		Store:       store,
		AuditLogger: auditLogger,
		Logger:      newLogger(),
	})
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	checkpoints, err := stepflow.NewFileCheckpointStore(flagCheckpointsDir)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	recovery, err := stepflow.NewRecovery(stepflow.RecoveryOptions{
		Engine:      engine,
		Checkpoints: checkpoints,
		Logger:      newLogger(),
	})
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return engine, recovery, func() { store.Close() }, nil
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.yaml>...",
		Short: "Validate workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			for _, path := range args {
				def, err := stepflow.LoadFile(path)
				if err != nil {
					color.Red("%s: %v", path, err)
					failed = true
					continue
				}
				color.Green("%s: workflow %q is valid (%d steps, initial %q)",
					path, def.Name(), len(def.Steps()), def.InitialStep().Name)
			}
			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

func inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <execution-id>",
		Short: "Show an execution's state and available actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, _, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			execution, err := engine.GetExecution(ctx, args[0])
			if err != nil {
				return err
			}
			color.Cyan("Execution %s", execution.ID)
			color.White("  Workflow: %s", execution.WorkflowName)
			color.White("  Subject:  %s", execution.Subject)
			color.White("  Step:     %s", execution.CurrentStep)
			switch execution.Status {
			case stepflow.ExecutionStatusFailed:
				color.Red("  Status:   %s", execution.Status)
			case stepflow.ExecutionStatusCompleted:
				color.Green("  Status:   %s", execution.Status)
			default:
				color.Yellow("  Status:   %s", execution.Status)
			}
			for _, name := range engine.AvailableActions(ctx, execution) {
				color.White("  Action:   %s", name)
			}
			return nil
		},
	}
}

func checkpointsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints <execution-id>",
		Short: "List checkpoints for an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, recovery, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			checkpoints, err := recovery.ListCheckpoints(ctx, args[0])
			if err != nil {
				return err
			}
			if len(checkpoints) == 0 {
				color.Yellow("No checkpoints for execution %s", args[0])
				return nil
			}
			for _, checkpoint := range checkpoints {
				label := checkpoint.Label
				if label == "" {
					label = "(unlabeled)"
				}
				color.White("%s  %s  step=%s  %s",
					checkpoint.ID,
					checkpoint.CreatedAt.Format(time.RFC3339),
					checkpoint.CapturedStep,
					label)
			}
			return nil
		},
	}
}

func recoverCommand() *cobra.Command {
	var strategy, targetStep string
	var force bool
	cmd := &cobra.Command{
		Use:   "recover <execution-id>",
		Short: "Recover an execution using a strategy (auto, rollback, reset, retry_last, manual)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, recovery, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := recovery.Recover(ctx, args[0], stepflow.RecoveryStrategy(strategy), targetStep, force)
			if err != nil {
				return err
			}
			color.Green("Recovered with strategy %s: %s -> %s", result.Strategy, result.FromStep, result.ToStep)
			if result.CheckpointID != "" {
				color.White("Checkpoint: %s", result.CheckpointID)
			}
			for _, line := range result.Instructions {
				color.Yellow("  %s", line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "auto", "Recovery strategy")
	cmd.Flags().StringVar(&targetStep, "target", "", "Target step for the reset strategy")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the completed-status blocker")
	return cmd
}

func diagnosticsCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "diagnostics <execution-id>",
		Short: "Export a diagnostics snapshot for an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, recovery, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := recovery.ExportDiagnostics(ctx, args[0], format)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: json or text")
	return cmd
}
