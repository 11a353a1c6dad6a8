package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/artifacts"
	"github.com/lucasnoah/qualitygate/internal/db"
	"github.com/lucasnoah/qualitygate/internal/evidence"
	"github.com/lucasnoah/qualitygate/internal/repair"
	"github.com/lucasnoah/qualitygate/internal/workspace"
)

// repairFlags are shared by repair and check --repair.
type repairFlags struct {
	maxAttempts       int
	keepBackups       bool
	deterministicOnly bool
}

func (r *repairFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&r.maxAttempts, "max-attempts", 0, "override policy.max_attempts")
	cmd.Flags().BoolVar(&r.keepBackups, "keep-backups", false, "keep .qgate/backups after the loop finishes")
}

func repairReport(out *repair.Outcome) *artifacts.RepairReport {
	attempts := out.History
	if attempts == nil {
		attempts = []evidence.RepairAttempt{}
	}
	return &artifacts.RepairReport{Status: string(evidence.StatusPass), Attempts: attempts}
}

// runRepair drives the repair loop from initial and writes its outcome:
// repair-report.json on success, escalation.json otherwise.
func runRepair(ctx context.Context, cmd *cobra.Command, a *app, f *artifacts.Failures, initial *evidence.RunResult, flags repairFlags) (*repair.Outcome, error) {
	policy := a.cfg.RepairPolicy()
	if cmd.Flags().Changed("max-attempts") {
		policy.MaxAttempts = flags.maxAttempts
	}
	if err := policy.Validate(); err != nil {
		return nil, usageError("%v", err)
	}
	if err := a.store.ClearRepairOutcome(); err != nil {
		return nil, internalError(err)
	}

	orch, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	fixer, err := a.fixer()
	if err != nil {
		return nil, err
	}
	if f.RunID == "" {
		f.RunID = newRunID(time.Now())
	}
	log := a.log.Named("repair").With(zap.String("run_id", f.RunID))

	ctrl, err := repair.New(policy, repair.Deps{
		Gates:       orch,
		Fixer:       fixer,
		Workspace:   a.workspaceManager(),
		Logger:      log,
		Metrics:     a.metrics,
		KeepBackups: flags.keepBackups || a.cfg.Settings.KeepBackups,
	})
	if err != nil {
		return nil, err
	}

	out, err := ctrl.Run(ctx, initial)
	if err != nil {
		if errors.Is(err, workspace.ErrScopeViolation) {
			return nil, &ExitError{Code: ExitUsage, Err: err}
		}
		return nil, internalError(fmt.Errorf("repair: %w", err))
	}

	if out.Passed() {
		err = a.store.WriteRepairReport(repairReport(out))
	} else {
		err = a.store.WriteEscalation(out.Escalation)
	}
	if err != nil {
		return nil, internalError(err)
	}

	a.record("repair", func(h *db.DB) error {
		existing, err := h.GetRun(f.RunID)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := h.RecordRun(runRow(f, a.cfg.Source, f.Timestamp, f.Timestamp, 0)); err != nil {
				return err
			}
		}
		if err := h.RecordAttempts(f.RunID, out.History); err != nil {
			return err
		}
		for _, at := range out.History {
			if at.Post == nil {
				continue
			}
			if err := h.RecordGates(f.RunID, db.PhaseRepair, at.Post); err != nil {
				return err
			}
		}
		for _, s := range ctrl.Transitions() {
			if err := h.LogEvent(f.RunID, "state", string(s)); err != nil {
				return err
			}
		}
		if out.Escalation != nil {
			return h.RecordEscalation(f.RunID, out.Escalation)
		}
		return nil
	})
	return out, nil
}

func repairExit(out *repair.Outcome) error {
	if out.Passed() {
		return nil
	}
	return &ExitError{Code: ExitEscalated}
}

var (
	repairInput string
	repairOpts  repairFlags
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Run the bounded repair loop over a failures payload",
	Long: `Apply deterministic fixes to the files named by the findings in a
failures payload, re-running the gates after every attempt. Attempts that do
not reduce the finding count are rolled back.

Writes .qgate/repair-report.json and exits 0 when the gates pass, or writes
.qgate/escalation.json and exits 2.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if repairOpts.deterministicOnly {
			a.log.Debug("deterministic fixes are the only repair strategy")
		}
		f, err := a.store.ReadFailures(repairInput)
		if err != nil {
			return usageError("%v", err)
		}
		if err := workspace.ValidatePaths(f.ChangedFiles); err != nil {
			return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failures payload changed_files: %w", err)}
		}
		out, err := runRepair(cmd.Context(), cmd, a, f, f.RunResult(), repairOpts)
		if err != nil {
			return err
		}
		if err := printRepair(cmd.OutOrStdout(), a, out); err != nil {
			return err
		}
		return repairExit(out)
	},
}

func init() {
	repairCmd.Flags().StringVar(&repairInput, "input", "", "failures payload (default .qgate/failures.json)")
	repairCmd.Flags().BoolVar(&repairOpts.deterministicOnly, "deterministic-only", false, "only apply deterministic fixes")
	repairOpts.register(repairCmd)
}
