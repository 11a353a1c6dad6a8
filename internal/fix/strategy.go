// Package fix applies deterministic, command-based fixes to a bounded set of
// files and measures the resulting patch.
package fix

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/cmdtmpl"
	"github.com/lucasnoah/qualitygate/internal/evidence"
	"github.com/lucasnoah/qualitygate/internal/gates"
	"github.com/lucasnoah/qualitygate/internal/workspace"
)

// ErrToolExecution is returned when a fix command could not be run at all.
var ErrToolExecution = errors.New("fix tool execution failed")

// ErrUnscopedCommand is returned for a fix command that does not pass
// {{targets}}.
var ErrUnscopedCommand = errors.New("fix command must pass {{targets}}")

// CheckCommand validates a fix command template.
func CheckCommand(tmpl string) error {
	if err := cmdtmpl.Check(tmpl, []string{"targets", "root"}); err != nil {
		return err
	}
	if !cmdtmpl.Uses(tmpl, "targets") {
		return ErrUnscopedCommand
	}
	return nil
}

// StrategyName is recorded on every action.
const StrategyName = "deterministic_prefix"

// DefaultMaxFiles caps how many files one attempt may hand to fixers.
const DefaultMaxFiles = 20

// DefaultExcludeDirs are directory names whose contents are never fixed.
var DefaultExcludeDirs = []string{".qgate", ".git", "__pycache__", ".venv", "venv", ".tox", ".nox", "dist", "build", "node_modules"}

// Command is one fixer invocation.
type Command struct {
	// Name identifies the action, e.g. RUFF_AUTOFIX.
	Name    string
	Command string
	// AcceptExitCodes are exit codes that count as a successful fix.
	AcceptExitCodes []int
	Rationale       string
}

// Options configures a CommandStrategy.
type Options struct {
	Root        string
	Commands    []Command
	Extensions  []string
	ExcludeDirs []string
	MaxFiles    int
	Timeout     time.Duration
	Meter       Meter
	Logger      *zap.Logger
}

// CommandStrategy runs the configured fix commands over the eligible files of
// the repair scope. It only acts when lint findings are present.
type CommandStrategy struct {
	cmd  gates.CommandRunner
	opts Options
}

// NewCommandStrategy creates a CommandStrategy with defaults filled in.
func NewCommandStrategy(cmd gates.CommandRunner, opts Options) (*CommandStrategy, error) {
	for _, c := range opts.Commands {
		if err := CheckCommand(c.Command); err != nil {
			return nil, fmt.Errorf("fix command %s: %w", c.Name, err)
		}
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".py"}
	}
	if opts.ExcludeDirs == nil {
		opts.ExcludeDirs = DefaultExcludeDirs
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.Meter == nil {
		opts.Meter = &ContentMeter{Root: opts.Root}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CommandStrategy{cmd: cmd, opts: opts}, nil
}

// Eligible returns the files of scope a fixer may touch, in scope order.
func (s *CommandStrategy) Eligible(scope []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range scope {
		if seen[f] || !s.eligible(f) {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == s.opts.MaxFiles {
			break
		}
	}
	return out
}

func (s *CommandStrategy) eligible(f string) bool {
	if workspace.ValidatePath(f) != nil {
		return false
	}
	ok := false
	for _, e := range s.opts.Extensions {
		if path.Ext(f) == e {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	for _, seg := range strings.Split(path.Dir(f), "/") {
		for _, ex := range s.opts.ExcludeDirs {
			if seg == ex {
				return false
			}
		}
	}
	return true
}

// Apply runs every fix command once over the eligible files of scope. A
// command that cannot start or is not executable aborts with
// ErrToolExecution; the actions run so far are returned with it.
func (s *CommandStrategy) Apply(ctx context.Context, scope []string, findings []evidence.Finding) (evidence.PatchSummary, error) {
	var summary evidence.PatchSummary
	log := s.opts.Logger

	if !hasLint(findings) {
		log.Debug("no lint findings, nothing to fix")
		return summary, nil
	}
	files := s.Eligible(scope)
	if len(files) == 0 {
		log.Debug("no eligible files in scope", zap.Strings("scope", scope))
		return summary, nil
	}

	m, err := s.opts.Meter.Start(ctx, files)
	if err != nil {
		return summary, fmt.Errorf("measure before fix: %w", err)
	}

	vars := cmdtmpl.Vars{"targets": cmdtmpl.Join(files), "root": cmdtmpl.Quote(s.opts.Root)}
	for _, c := range s.opts.Commands {
		command, err := cmdtmpl.Render(c.Command, vars)
		if err != nil {
			return summary, fmt.Errorf("fix command %s: %w", c.Name, err)
		}
		trace := gates.Capture(ctx, s.cmd, s.opts.Root, command, s.opts.Timeout)
		action := evidence.FixAction{
			RuleID:    c.Name,
			Strategy:  StrategyName,
			Command:   command,
			ExitCode:  trace.ExitCode,
			Accepted:  trace.Started() && accepted(c.AcceptExitCodes, trace.ExitCode),
			Files:     files,
			Rationale: c.Rationale,
		}
		summary.Actions = append(summary.Actions, action)

		if !trace.Started() {
			reason := trace.ExecError
			if reason == "" {
				reason = fmt.Sprintf("exit code %d", trace.ExitCode)
			}
			return summary, fmt.Errorf("%w: %s: %s", ErrToolExecution, c.Name, reason)
		}
		log.Info("fix command finished",
			zap.String("rule_id", c.Name),
			zap.Int("exit_code", trace.ExitCode),
			zap.Bool("accepted", action.Accepted))
	}

	delta, err := m.Finish(ctx)
	if err != nil {
		return summary, fmt.Errorf("measure after fix: %w", err)
	}
	summary.FilesChanged = delta.FilesChanged
	summary.LinesChanged = delta.LinesChanged
	summary.Files = delta.Files
	return summary, nil
}

func hasLint(findings []evidence.Finding) bool {
	for _, f := range findings {
		if f.Gate == evidence.GateLint {
			return true
		}
	}
	return false
}

func accepted(codes []int, exitCode int) bool {
	if len(codes) == 0 {
		return exitCode == 0
	}
	for _, c := range codes {
		if c == exitCode {
			return true
		}
	}
	return false
}
