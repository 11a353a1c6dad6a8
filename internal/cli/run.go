package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/artifacts"
	"github.com/lucasnoah/qualitygate/internal/db"
	"github.com/lucasnoah/qualitygate/internal/envinfo"
	"github.com/lucasnoah/qualitygate/internal/evidence"
	"github.com/lucasnoah/qualitygate/internal/gitinfo"
	"github.com/lucasnoah/qualitygate/internal/workspace"
)

// scopeFlags select the mode and the changed files of a gate run.
type scopeFlags struct {
	mode         string
	changedFiles string
	gitChanged   bool
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.mode, "mode", "", "gate mode: canary or full")
	cmd.Flags().StringVar(&s.changedFiles, "changed-files", "", "file listing changed paths (newline-delimited or a JSON array)")
	cmd.Flags().BoolVar(&s.gitChanged, "git-changed", false, "add the files changed in the git working tree")
	_ = cmd.MarkFlagRequired("mode")
}

// resolve parses the mode and collects the changed files relative to root.
func (s *scopeFlags) resolve(root string) (evidence.Mode, []string, error) {
	mode, err := evidence.ParseMode(s.mode)
	if err != nil {
		return "", nil, usageError("--mode: %v", err)
	}
	if s.changedFiles == "" && !s.gitChanged {
		return "", nil, usageError("one of --changed-files or --git-changed is required")
	}

	files := []string{}
	if s.changedFiles != "" {
		listed, err := artifacts.LoadChangedFiles(s.changedFiles)
		if err != nil {
			return "", nil, usageError("%v", err)
		}
		files = append(files, listed...)
	}
	if s.gitChanged {
		changed, err := gitinfo.ChangedFiles(root)
		if err != nil {
			return "", nil, usageError("--git-changed: %v", err)
		}
		seen := make(map[string]bool, len(files))
		for _, f := range files {
			seen[f] = true
		}
		for _, f := range changed {
			if !seen[f] {
				files = append(files, f)
			}
		}
	}
	if err := workspace.ValidatePaths(files); err != nil {
		return "", nil, &ExitError{Code: ExitUsage, Err: err}
	}
	return mode, files, nil
}

// gateRun is one completed orchestrator run and its payload.
type gateRun struct {
	result   *evidence.RunResult
	failures *artifacts.Failures
}

func newRunID(t time.Time) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("run_%s_%s", t.UTC().Format("20060102150405"), short)
}

// runGates runs the gates, writes failures.json and run-metadata.json and
// records the run in history.
func runGates(ctx context.Context, a *app, mode evidence.Mode, changed []string) (*gateRun, error) {
	orch, err := a.orchestrator()
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	runID := newRunID(started)
	log := a.log.With(zap.String("run_id", runID))
	log.Info("running gates", zap.String("mode", string(mode)), zap.Int("changed_files", len(changed)))

	res, err := orch.Run(ctx, mode, changed)
	if err != nil {
		return nil, internalError(fmt.Errorf("run gates: %w", err))
	}
	completed := time.Now().UTC()

	info := gitinfo.Detect(a.root)
	f := &artifacts.Failures{
		RunID:               runID,
		Mode:                mode,
		Status:              res.Status(),
		Timestamp:           completed.Format(time.RFC3339),
		Repo:                info.Repo,
		Branch:              info.Branch,
		ChangedFiles:        changed,
		Gates:               res.Gates,
		Findings:            res.Findings,
		InferredHints:       artifacts.HintsFor(res.Findings),
		GateExecutionFailed: res.GateExecutionFailed,
	}
	if err := a.store.WriteFailures(f); err != nil {
		return nil, internalError(err)
	}

	var tools []string
	for _, c := range a.cfg.Commands() {
		if t := envinfo.ToolOf(c); t != "" {
			tools = append(tools, t)
		}
	}
	env := envinfo.Collect(ctx, tools, versionProbe)
	for _, w := range env.Warnings {
		log.Warn("environment", zap.String("warning", w))
	}
	traces := res.Traces
	if traces == nil {
		traces = []evidence.CommandTrace{}
	}
	meta := &artifacts.RunMetadata{
		RunID:         runID,
		Mode:          mode,
		StartedAt:     started.Format(time.RFC3339),
		CompletedAt:   completed.Format(time.RFC3339),
		DurationMs:    completed.Sub(started).Milliseconds(),
		ConfigSource:  a.cfg.Source,
		Environment:   env,
		CommandTraces: traces,
	}
	if err := a.store.WriteRunMetadata(meta); err != nil {
		return nil, internalError(err)
	}

	a.record("run", func(h *db.DB) error {
		if err := h.RecordRun(runRow(f, a.cfg.Source, meta.StartedAt, meta.CompletedAt, meta.DurationMs)); err != nil {
			return err
		}
		return h.RecordGates(runID, db.PhaseRun, res)
	})
	return &gateRun{result: res, failures: f}, nil
}

func runRow(f *artifacts.Failures, source, started, completed string, durationMs int64) db.Run {
	return db.Run{
		RunID:               f.RunID,
		Mode:                string(f.Mode),
		Status:              string(f.Status),
		StartedAt:           started,
		CompletedAt:         completed,
		DurationMs:          durationMs,
		Repo:                f.Repo,
		Branch:              f.Branch,
		ChangedFiles:        len(f.ChangedFiles),
		Findings:            len(f.Findings),
		GateExecutionFailed: f.GateExecutionFailed,
		ConfigSource:        source,
	}
}

var runScope scopeFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the quality gates over the changed files",
	Long: `Run lint, typecheck and test gates (test only in full mode unless
settings.test_in_canary is set) and write .qgate/failures.json and
.qgate/run-metadata.json.

Exits 0 when every gate passes and 1 otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		mode, changed, err := runScope.resolve(a.root)
		if err != nil {
			return err
		}
		gr, err := runGates(cmd.Context(), a, mode, changed)
		if err != nil {
			return err
		}
		if err := printRun(cmd.OutOrStdout(), a, gr); err != nil {
			return err
		}
		if gr.result.Status() != evidence.StatusPass {
			return &ExitError{Code: ExitFail}
		}
		return nil
	},
}

func init() {
	runScope.register(runCmd)
}
