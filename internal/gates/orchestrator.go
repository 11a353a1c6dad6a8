// Package gates runs the lint, typecheck and test gates and normalizes their
// output into findings.
package gates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/cmdtmpl"
	"github.com/lucasnoah/qualitygate/internal/evidence"
	"github.com/lucasnoah/qualitygate/internal/metrics"
)

// Template variables available to gate commands.
const (
	VarTargets = "targets"
	VarRoot    = "root"
	VarReport  = "report"
)

// TemplateVars lists every variable a gate command may reference.
var TemplateVars = []string{VarTargets, VarRoot, VarReport}

// GateConfig configures one gate.
type GateConfig struct {
	Gate    evidence.Gate
	Enabled bool
	Command string
	Parser  string
	Timeout time.Duration
	// Report is an absolute path the tool writes a report to. It is removed
	// before each run and handed to the adapter when present afterwards.
	Report string
	// Extensions filters the changed files passed as targets. Empty means
	// every changed file.
	Extensions []string
	// SuccessCodes are exit codes that mean the gate passed. Defaults to 0.
	SuccessCodes []int
}

// Options configures an Orchestrator.
type Options struct {
	Root         string
	Gates        []GateConfig
	TestInCanary bool
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
}

// Orchestrator runs the configured gates. It keeps no state between runs.
type Orchestrator struct {
	cmd          CommandRunner
	root         string
	gates        map[evidence.Gate]GateConfig
	testInCanary bool
	logger       *zap.Logger
	metrics      *metrics.Recorder
}

// New creates an Orchestrator. Every configured parser must be registered.
func New(cmd CommandRunner, opts Options) (*Orchestrator, error) {
	o := &Orchestrator{
		cmd:          cmd,
		root:         opts.Root,
		gates:        make(map[evidence.Gate]GateConfig, len(opts.Gates)),
		testInCanary: opts.TestInCanary,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	for _, g := range opts.Gates {
		if _, err := evidence.ParseGate(string(g.Gate)); err != nil {
			return nil, err
		}
		if _, err := Lookup(g.Parser); err != nil {
			return nil, fmt.Errorf("gate %s: %w", g.Gate, err)
		}
		if err := cmdtmpl.Check(g.Command, TemplateVars); err != nil {
			return nil, fmt.Errorf("gate %s: command: %w", g.Gate, err)
		}
		o.gates[g.Gate] = g
	}
	return o, nil
}

// Run executes the gate plan for mode over scope and returns a fresh result.
// Gates run sequentially in lint, typecheck, test order. The returned error
// is reserved for cancellation and template errors; tool failures are
// recorded on the result.
func (o *Orchestrator) Run(ctx context.Context, mode evidence.Mode, scope []string) (*evidence.RunResult, error) {
	res := &evidence.RunResult{
		Mode:     mode,
		Scope:    append([]string{}, scope...),
		Gates:    []evidence.GateOutcome{},
		Findings: []evidence.Finding{},
	}

	for _, gate := range evidence.Gates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg, ok := o.gates[gate]
		if !ok || !cfg.Enabled {
			res.Gates = append(res.Gates, skipped(gate, "disabled by configuration"))
			continue
		}
		if gate == evidence.GateTest && mode == evidence.ModeCanary && !o.testInCanary {
			res.Gates = append(res.Gates, skipped(gate, "test gate disabled in canary mode"))
			continue
		}

		outcome, findings, trace, err := o.runGate(ctx, cfg, mode, scope)
		if err != nil {
			return nil, err
		}
		res.Gates = append(res.Gates, outcome)
		res.Traces = append(res.Traces, trace)
		res.Findings = append(res.Findings, findings...)
		if outcome.Status == evidence.GateError {
			res.GateExecutionFailed = true
		}
		o.metrics.ObserveGate(outcome)
	}

	res.Findings = evidence.AssignIDs(res.Findings)
	o.metrics.ObserveRun(res)
	o.logger.Info("gates finished",
		zap.String("mode", string(mode)),
		zap.String("status", string(res.Status())),
		zap.Int("findings", res.Count()),
		zap.Bool("gate_execution_failed", res.GateExecutionFailed))
	return res, nil
}

func skipped(gate evidence.Gate, reason string) evidence.GateOutcome {
	return evidence.GateOutcome{Gate: gate, Status: evidence.GateSkipped, Reason: reason}
}

func (o *Orchestrator) runGate(ctx context.Context, cfg GateConfig, mode evidence.Mode, scope []string) (evidence.GateOutcome, []evidence.Finding, evidence.CommandTrace, error) {
	log := o.logger.With(zap.String("gate", string(cfg.Gate)))

	command, scoped, note, err := o.render(cfg, mode, scope)
	if err != nil {
		return evidence.GateOutcome{}, nil, evidence.CommandTrace{}, fmt.Errorf("gate %s: %w", cfg.Gate, err)
	}
	if cfg.Report != "" {
		if err := os.Remove(cfg.Report); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return evidence.GateOutcome{}, nil, evidence.CommandTrace{}, fmt.Errorf("gate %s: remove stale report: %w", cfg.Gate, err)
		}
	}

	log.Debug("running gate", zap.String("command", command), zap.Bool("scoped", scoped))
	trace := Capture(ctx, o.cmd, o.root, command, cfg.Timeout)
	trace.Gate = cfg.Gate
	trace.Scoped = scoped
	trace.ScopeNote = note
	if err := ctx.Err(); err != nil && !trace.TimedOut {
		return evidence.GateOutcome{}, nil, evidence.CommandTrace{}, err
	}

	outcome := evidence.GateOutcome{Gate: cfg.Gate, DurationMs: trace.DurationMs}

	switch {
	case !trace.Started():
		outcome.Status = evidence.GateError
		outcome.Reason = startFailure(trace)
		log.Warn("gate did not run", zap.String("reason", outcome.Reason), zap.Int("exit_code", trace.ExitCode))
		return outcome, nil, trace, nil
	case succeeded(cfg, trace.ExitCode):
		outcome.Status = evidence.GatePass
		log.Info("gate passed", zap.Int64("duration_ms", trace.DurationMs))
		return outcome, nil, trace, nil
	}

	adapter, _ := Lookup(cfg.Parser)
	out := Output{Stdout: trace.Stdout, Stderr: trace.Stderr, ExitCode: trace.ExitCode, Root: o.root}
	if cfg.Report != "" {
		if data, err := os.ReadFile(cfg.Report); err == nil {
			out.Report = data
		}
	}
	parsed := adapter.Parse(cfg.Gate, out)

	if parsed.Unparseable || len(parsed.Findings) == 0 {
		outcome.Status = evidence.GateError
		outcome.Reason = fmt.Sprintf("exit code %d with no parseable findings: %s", trace.ExitCode, parsed.Summary)
		log.Warn("gate execution failed", zap.String("reason", outcome.Reason))
		return outcome, nil, trace, nil
	}

	outcome.Status = evidence.GateFail
	outcome.Findings = len(parsed.Findings)
	log.Info("gate failed",
		zap.Int("findings", outcome.Findings),
		zap.String("summary", parsed.Summary),
		zap.Int64("duration_ms", trace.DurationMs))
	return outcome, parsed.Findings, trace, nil
}

// render expands the gate command and reports whether it ran scoped.
func (o *Orchestrator) render(cfg GateConfig, mode evidence.Mode, scope []string) (string, bool, string, error) {
	vars := cmdtmpl.Vars{
		VarRoot:    cmdtmpl.Quote(o.root),
		VarReport:  cmdtmpl.Quote(cfg.Report),
		VarTargets: ".",
	}

	targets := filterExt(scope, cfg.Extensions)
	var scoped bool
	var note string
	switch {
	case !cmdtmpl.Uses(cfg.Command, VarTargets):
		note = "command has no file filter"
	case mode == evidence.ModeFull:
		note = "full mode runs unscoped"
	case len(scope) == 0:
		note = "no changed files"
	case len(targets) == 0:
		note = "no changed files match " + strings.Join(cfg.Extensions, ", ")
	default:
		scoped = true
		vars[VarTargets] = cmdtmpl.Join(targets)
	}

	command, err := cmdtmpl.Render(cfg.Command, vars)
	return command, scoped, note, err
}

func filterExt(scope, exts []string) []string {
	if len(exts) == 0 {
		return scope
	}
	var out []string
	for _, f := range scope {
		ext := path.Ext(f)
		for _, e := range exts {
			if ext == e {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func succeeded(cfg GateConfig, exitCode int) bool {
	if len(cfg.SuccessCodes) == 0 {
		return exitCode == 0
	}
	for _, c := range cfg.SuccessCodes {
		if c == exitCode {
			return true
		}
	}
	return false
}

func startFailure(t evidence.CommandTrace) string {
	switch {
	case t.TimedOut:
		return t.ExecError
	case t.ExecError != "":
		return "could not start: " + t.ExecError
	case t.ExitCode == 127:
		return "command not found (exit 127)"
	default:
		return fmt.Sprintf("command not executable (exit %d)", t.ExitCode)
	}
}
