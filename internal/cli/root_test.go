package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/qualitygate/internal/analytics"
	"github.com/lucasnoah/qualitygate/internal/artifacts"
	"github.com/lucasnoah/qualitygate/internal/db"
)

const maxLineLength = 40

// fakeToolchain stands in for ruff and pyright against <root>/a.py: lint
// reports F401 for `import os` and E501 for long lines, `ruff check --fix`
// drops the import and `ruff format` leaves the file alone.
type fakeToolchain struct {
	root     string
	commands []string
}

type ruffRow struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

func (tc *fakeToolchain) Run(_ context.Context, _ string, command string) (string, string, int, error) {
	tc.commands = append(tc.commands, command)
	path := filepath.Join(tc.root, "a.py")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err.Error(), 2, nil
	}
	src := string(data)

	switch {
	case strings.HasPrefix(command, "ruff check --fix"):
		return "", "", 0, os.WriteFile(path, []byte(strings.Replace(src, "import os\n", "", 1)), 0o644)
	case strings.HasPrefix(command, "ruff format"):
		return "", "", 0, nil
	case strings.HasPrefix(command, "ruff check"):
		var rows []ruffRow
		for i, line := range strings.Split(src, "\n") {
			var r ruffRow
			switch {
			case line == "import os":
				r.Code, r.Message = "F401", "`os` imported but unused"
			case len(line) > maxLineLength:
				r.Code, r.Message = "E501", "Line too long"
			default:
				continue
			}
			r.Filename = path
			r.Location.Row, r.Location.Column = i+1, 1
			rows = append(rows, r)
		}
		if len(rows) == 0 {
			return "[]", "", 0, nil
		}
		out, _ := json.Marshal(rows)
		return string(out), "", 1, nil
	case strings.HasPrefix(command, "pyright"):
		return `{"generalDiagnostics": []}`, "", 0, nil
	}
	return "", "unexpected command " + command, 127, nil
}

// setup points the package at a temp project with a fake toolchain.
func setup(t *testing.T) (string, *fakeToolchain) {
	t.Helper()
	root := t.TempDir()
	tc := &fakeToolchain{root: root}

	prevRunner, prevProbe := commandRunner, versionProbe
	commandRunner = tc
	versionProbe = func(context.Context, string) (string, error) { return "tool 1.0.0", nil }
	t.Cleanup(func() {
		commandRunner, versionProbe = prevRunner, prevProbe
	})

	writeFile(t, root, "changed.txt", "a.py\n")
	return root, tc
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// resetFlags restores every flag to its default so executions don't leak
// state into each other through the package-level flag variables.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, root string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--dir", root, "--no-color"}, args...))
	err := Execute(context.Background())
	return stdout.String(), stderr.String(), err
}

func readFailures(t *testing.T, root string) *artifacts.Failures {
	t.Helper()
	f, err := artifacts.NewStore(root).ReadFailures("")
	require.NoError(t, err)
	return f
}

func TestVersion(t *testing.T) {
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("dev") })

	out, _, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "qgate version 1.2.3\n", out)
}

func TestHelpListsCommands(t *testing.T) {
	out, _, err := execute(t, t.TempDir(), "--help")
	require.NoError(t, err)
	for _, name := range []string{"run", "summarize", "repair", "check", "config", "history", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitPass, ExitCode(nil))
	assert.Equal(t, ExitFail, ExitCode(&ExitError{Code: ExitFail}))
	assert.Equal(t, ExitEscalated, ExitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: ExitEscalated})))
	assert.Equal(t, ExitUsage, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitUsage, ExitCode(usageError("bad flag %s", "--x")))
	assert.Equal(t, ExitInternal, ExitCode(internalError(errors.New("disk full"))))
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := &ExitError{Code: ExitUsage, Err: inner}
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "exit status 1", (&ExitError{Code: ExitFail}).Error())
}

func TestRun_Pass(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "x = 1\n")

	out, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.NoError(t, err)
	assert.Contains(t, out, "qgate pass: 0 findings")
	assert.Contains(t, out, "SKIP")

	f := readFailures(t, root)
	assert.Equal(t, "pass", string(f.Status))
	assert.True(t, strings.HasPrefix(f.RunID, "run_"))
	assert.Equal(t, []string{"a.py"}, f.ChangedFiles)
	assert.Empty(t, f.Findings)
	assert.NotNil(t, f.InferredHints)

	_, err = os.Stat(filepath.Join(root, ".qgate", "run-metadata.json"))
	assert.NoError(t, err)
}

func TestRun_FailWritesFindings(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "import os\nx = 1\n")

	out, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitFail, ExitCode(err))
	assert.Contains(t, out, "a.py:1:1 F401")

	f := readFailures(t, root)
	assert.Equal(t, "fail", string(f.Status))
	require.Len(t, f.Findings, 1)
	assert.Equal(t, "F401", f.Findings[0].RuleCode)
	assert.Equal(t, "a.py", f.Findings[0].FilePath)
	require.Len(t, f.InferredHints, 1)
	assert.Equal(t, f.Findings[0].ID, f.InferredHints[0].FindingID)
}

func TestRun_JSON(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "x = 1\n")

	out, _, err := execute(t, root, "--json", "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "pass", got["status"])
	assert.Equal(t, filepath.Join(root, ".qgate", "failures.json"), got["failures_path"])
}

func TestRun_UsageErrors(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "x = 1\n")
	writeFile(t, root, "escape.txt", "../x.py\n")

	tests := []struct {
		name string
		args []string
	}{
		{"no changed files", []string{"run", "--mode", "canary"}},
		{"bad mode", []string{"run", "--mode", "fast", "--changed-files", filepath.Join(root, "changed.txt")}},
		{"missing list", []string{"run", "--mode", "canary", "--changed-files", filepath.Join(root, "nope.txt")}},
		{"scope violation", []string{"run", "--mode", "canary", "--changed-files", filepath.Join(root, "escape.txt")}},
		{"bad log level", []string{"--log-level", "loud", "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, root, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitUsage, ExitCode(err))
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	root, tc := setup(t)
	writeFile(t, root, "a.py", "x = 1\n")
	writeFile(t, root, "qgate.toml", "[policy]\nmax_attempts = 0\n")

	_, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Empty(t, tc.commands)
}

func TestRun_MetricsFile(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "import os\n")
	metricsPath := filepath.Join(t.TempDir(), "qgate.prom")

	_, _, err := execute(t, root, "--metrics-file", metricsPath, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	assert.Equal(t, ExitFail, ExitCode(err))

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "qgate_gate_duration_seconds")
}

func TestSummarize(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "import os\nx = 1\n")

	_, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Equal(t, ExitFail, ExitCode(err))
	runID := readFailures(t, root).RunID

	out, _, err := execute(t, root, "summarize")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# qgate agent brief: "+runID))
	assert.Contains(t, out, "F401")

	for _, name := range []string{"agent-brief.json", "agent-brief.md"} {
		_, err := os.Stat(filepath.Join(root, ".qgate", name))
		assert.NoError(t, err, name)
	}
}

func TestSummarize_MissingInput(t *testing.T) {
	root, _ := setup(t)

	_, _, err := execute(t, root, "summarize", "--input", filepath.Join(root, "missing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestRepair_Passes(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "import os\nx = 1\n")

	_, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Equal(t, ExitFail, ExitCode(err))

	out, _, err := execute(t, root, "repair")
	require.NoError(t, err)
	assert.Contains(t, out, "PASSED after 1 attempt(s)")

	data, err := os.ReadFile(filepath.Join(root, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(data))

	var report artifacts.RepairReport
	raw, err := os.ReadFile(filepath.Join(root, ".qgate", "repair-report.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "pass", report.Status)
	require.Len(t, report.Attempts, 1)
	assert.Equal(t, 1, report.Attempts[0].BeforeFindings)
	assert.Equal(t, 0, report.Attempts[0].AfterFindings)

	_, err = os.Stat(filepath.Join(root, ".qgate", "escalation.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheck_RepairEscalates(t *testing.T) {
	root, _ := setup(t)
	long := "x = 'cccccccccccccccccccccccccccccccccccccccccc'\n"
	writeFile(t, root, "a.py", long)

	out, _, err := execute(t, root, "check", "--repair", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Error(t, err)
	assert.Equal(t, ExitEscalated, ExitCode(err))
	assert.Contains(t, out, "ESCALATED")

	data, err := os.ReadFile(filepath.Join(root, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, long, string(data))

	_, err = os.Stat(filepath.Join(root, ".qgate", "escalation.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, ".qgate", "repair-report.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheck_WithoutRepairFails(t *testing.T) {
	root, tc := setup(t)
	writeFile(t, root, "a.py", "import os\n")

	_, _, err := execute(t, root, "check", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	assert.Equal(t, ExitFail, ExitCode(err))
	for _, c := range tc.commands {
		assert.False(t, strings.HasPrefix(c, "ruff check --fix"), "fix ran without --repair: %s", c)
	}
}

func TestRepair_BackupFailureIsInternal(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "import os\nx = 1\n")

	_, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Equal(t, ExitFail, ExitCode(err))
	writeFile(t, root, ".qgate/backups", "not a directory\n")

	_, _, err = execute(t, root, "repair")
	require.Error(t, err)
	assert.Equal(t, ExitInternal, ExitCode(err))

	data, err := os.ReadFile(filepath.Join(root, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, "import os\nx = 1\n", string(data))
}

func TestRepair_RejectsEscapingChangedFiles(t *testing.T) {
	root, tc := setup(t)
	writeFile(t, root, "a.py", "import os\nx = 1\n")

	_, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Equal(t, ExitFail, ExitCode(err))
	f := readFailures(t, root)
	f.ChangedFiles = []string{"a.py", "../outside.py"}
	require.NoError(t, artifacts.NewStore(root).WriteFailures(f))
	tc.commands = nil

	_, _, err = execute(t, root, "repair")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, err.Error(), "changed_files")
	assert.Empty(t, tc.commands, "no gate or fix command runs")
}

func TestRepair_MaxAttemptsOverride(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "import os\n")

	_, _, err := execute(t, root, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Equal(t, ExitFail, ExitCode(err))

	_, _, err = execute(t, root, "repair", "--max-attempts", "0")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestConfigValidate(t *testing.T) {
	root := t.TempDir()

	out, _, err := execute(t, root, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	writeFile(t, root, "qgate.toml", "[policy]\nmax_attempts = 0\n")
	out, _, err = execute(t, root, "config", "validate")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, out, "policy.max_attempts")
}

func TestConfigShow(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "qgate.yaml", "policy:\n  max_attempts: 5\n")

	out, _, err := execute(t, root, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# source: ")
	assert.Contains(t, out, "max_attempts = 5")

	out, _, err = execute(t, root, "config", "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "max_attempts: 5")

	_, _, err = execute(t, root, "config", "show", "--format", "xml")
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestHistory(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "import os\nx = 1\n")
	dsn := filepath.Join(t.TempDir(), "history.db")

	_, _, err := execute(t, root, "--history-dsn", dsn, "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.Equal(t, ExitFail, ExitCode(err))
	runID := readFailures(t, root).RunID

	_, _, err = execute(t, root, "--history-dsn", dsn, "repair")
	require.NoError(t, err)

	out, _, err := execute(t, root, "--history-dsn", dsn, "--json", "history")
	require.NoError(t, err)
	var runs []db.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, "fail", runs[0].Status)
	assert.Equal(t, 1, runs[0].Findings)

	out, _, err = execute(t, root, "--history-dsn", dsn, "history", "show", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "Run:      "+runID)
	assert.Contains(t, out, "Repair attempts:")

	h, err := db.Open(dsn)
	require.NoError(t, err)
	defer h.Close()
	gateRuns, err := h.GatesForRun(runID)
	require.NoError(t, err)
	phases := map[string]int{}
	for _, g := range gateRuns {
		phases[g.Phase]++
	}
	assert.Equal(t, 3, phases[db.PhaseRun])
	assert.Equal(t, 3, phases[db.PhaseRepair])
	events, err := h.EventsForRun(runID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	out, _, err = execute(t, root, "--history-dsn", dsn, "--json", "history", "stats", "--since", "1h")
	require.NoError(t, err)
	var report analytics.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Modes, 1)
	assert.Equal(t, 1, report.Modes[0].Runs)
	require.NotNil(t, report.Repair)
	assert.Equal(t, 1, report.Repair.Passed)
	assert.Empty(t, report.Escalations)

	out, _, err = execute(t, root, "--history-dsn", dsn, "history", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Repair: 1 runs, 1 passed")

	_, _, err = execute(t, root, "--history-dsn", dsn, "history", "stats", "--since", "yesterday")
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestHistory_ShowUnknownRun(t *testing.T) {
	root := t.TempDir()
	dsn := filepath.Join(t.TempDir(), "history.db")

	_, _, err := execute(t, root, "--history-dsn", dsn, "history", "show", "run_missing")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestHistory_ResetRequiresYes(t *testing.T) {
	root := t.TempDir()
	dsn := filepath.Join(t.TempDir(), "history.db")

	_, _, err := execute(t, root, "--history-dsn", dsn, "history", "reset")
	assert.Equal(t, ExitUsage, ExitCode(err))

	out, _, err := execute(t, root, "--history-dsn", dsn, "history", "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "History reset.")
}

func TestNoHistory(t *testing.T) {
	root, _ := setup(t)
	writeFile(t, root, "a.py", "x = 1\n")

	_, _, err := execute(t, root, "--no-history", "run", "--mode", "canary", "--changed-files", filepath.Join(root, "changed.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, ".qgate", "history.db"))
	assert.True(t, os.IsNotExist(err))

	_, _, err = execute(t, root, "--no-history", "history")
	assert.Equal(t, ExitUsage, ExitCode(err))
}
