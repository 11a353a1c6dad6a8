package gates

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// DefaultTimeout bounds a single tool invocation when none is configured.
const DefaultTimeout = 10 * time.Minute

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Capture runs command through runner and records the invocation. It never
// fails: start errors and timeouts are recorded on the trace.
func Capture(ctx context.Context, runner CommandRunner, dir, command string, timeout time.Duration) evidence.CommandTrace {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := runner.Run(cctx, dir, command)
	trace := evidence.CommandTrace{
		Command:    command,
		Dir:        dir,
		StartedAt:  start.UTC(),
		DurationMs: time.Since(start).Milliseconds(),
		ExitCode:   exitCode,
		Stdout:     stdout,
		Stderr:     stderr,
	}

	switch {
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		trace.TimedOut = true
		trace.ExecError = fmt.Sprintf("timeout after %s", timeout)
		if trace.ExitCode == 0 {
			trace.ExitCode = -1
		}
	case err != nil:
		trace.ExecError = err.Error()
		trace.ExitCode = -1
	}
	return trace
}
