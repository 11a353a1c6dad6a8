// Package repair runs the bounded, reversible repair loop: backup, fix,
// re-run gates, compare finding counts, then keep, roll back, pass or
// escalate.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/escalation"
	"github.com/lucasnoah/qualitygate/internal/evidence"
	"github.com/lucasnoah/qualitygate/internal/metrics"
	"github.com/lucasnoah/qualitygate/internal/workspace"
)

// State is a repair loop state.
type State string

const (
	StateInit       State = "INIT"
	StateBackedUp   State = "BACKED_UP"
	StateFixing     State = "FIXING"
	StateEvaluating State = "EVALUATING"
	StatePassed     State = "PASSED"
	StateRolledBack State = "ROLLED_BACK"
	StateEscalated  State = "ESCALATED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePassed || s == StateEscalated
}

// ErrRestoreMismatch is returned when a restored workspace does not match
// its snapshot.
var ErrRestoreMismatch = errors.New("workspace differs from snapshot after restore")

// GateRunner re-runs the gates after a fix.
type GateRunner interface {
	Run(ctx context.Context, mode evidence.Mode, scope []string) (*evidence.RunResult, error)
}

// Fixer applies one bounded fix over scope.
type Fixer interface {
	Apply(ctx context.Context, scope []string, findings []evidence.Finding) (evidence.PatchSummary, error)
}

// Workspace snapshots and restores the files a fix may touch.
type Workspace interface {
	Backup(id string, paths []string) (*workspace.Snapshot, error)
	Restore(snap *workspace.Snapshot) error
	Verify(snap *workspace.Snapshot) ([]string, error)
	Discard(snap *workspace.Snapshot) error
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Gates     GateRunner
	Fixer     Fixer
	Workspace Workspace

	// Now defaults to time.Now.
	Now         func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Recorder
	KeepBackups bool
}

// Outcome is the result of one repair invocation.
type Outcome struct {
	State   State                    `json:"state"`
	History []evidence.RepairAttempt `json:"attempts"`

	// Final is the run result the workspace is left in.
	Final      *evidence.RunResult          `json:"-"`
	Escalation *evidence.EscalationEvidence `json:"escalation,omitempty"`
	Elapsed    time.Duration                `json:"-"`
}

// Passed reports whether the loop converged to zero findings.
func (o *Outcome) Passed() bool { return o.State == StatePassed }

// Controller is the repair state machine. It is single use: create one per
// repair invocation.
type Controller struct {
	policy Policy
	deps   Deps
	log    *zap.Logger

	state       State
	transitions []State
	attempt     int
	noImprove   int
	started     time.Time
	history     []evidence.RepairAttempt
	snap        *workspace.Snapshot
}

// New creates a Controller. The policy must be valid.
func New(policy Policy, deps Deps) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("repair policy: %w", err)
	}
	if deps.Gates == nil || deps.Fixer == nil || deps.Workspace == nil {
		return nil, errors.New("repair: gates, fixer and workspace are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{policy: policy, deps: deps, log: deps.Logger, state: StateInit}, nil
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Transitions returns every state entered so far, in order.
func (c *Controller) Transitions() []State { return append([]State{}, c.transitions...) }

// Attempt returns the number of the attempt in progress or last finished.
func (c *Controller) Attempt() int { return c.attempt }

// ConsecutiveNoImprovement returns the current no-improvement streak.
func (c *Controller) ConsecutiveNoImprovement() int { return c.noImprove }

// Elapsed returns the wall-clock time since the loop started.
func (c *Controller) Elapsed() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	return c.deps.Now().Sub(c.started)
}

// History returns a copy of the attempt history.
func (c *Controller) History() []evidence.RepairAttempt {
	return append([]evidence.RepairAttempt{}, c.history...)
}

func (c *Controller) enter(s State) {
	c.state = s
	c.transitions = append(c.transitions, s)
	c.log.Debug("repair state", zap.String("state", string(s)), zap.Int("attempt", c.attempt))
}

// Run drives the loop from initial to a terminal state. Returned errors are
// input or infrastructure failures (scope violations, backup I/O, a restore
// that does not verify, cancellation); every other non-passing termination
// is reported as an escalation on the Outcome.
func (c *Controller) Run(ctx context.Context, initial *evidence.RunResult) (*Outcome, error) {
	if c.state != StateInit || len(c.transitions) > 0 {
		return nil, errors.New("repair: controller already used")
	}
	c.started = c.deps.Now()
	c.enter(StateInit)

	if initial.GateExecutionFailed {
		return c.escalate(initial, initial, escalation.Hint{
			Reason:  escalation.ReasonExecutionFailed,
			Details: executionDetails(initial, 0),
		})
	}
	if initial.Count() == 0 {
		return c.pass(initial)
	}

	current := initial
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.attempt >= c.policy.MaxAttempts {
			return c.escalate(initial, current, escalation.Hint{
				Reason:  escalation.ReasonAttemptsExhausted,
				Details: map[string]any{"max_attempts": c.policy.MaxAttempts},
			})
		}
		if elapsed := c.Elapsed(); elapsed >= c.policy.TimeCap {
			return c.escalate(initial, current, escalation.Hint{
				Reason: escalation.ReasonTimeCap,
				Details: map[string]any{
					"time_cap_seconds": int(c.policy.TimeCap / time.Second),
					"elapsed_seconds":  int(elapsed / time.Second),
				},
			})
		}

		scope := current.Files()
		if err := workspace.ValidatePaths(scope); err != nil {
			return nil, err
		}

		next, done, err := c.step(ctx, initial, current, scope)
		if err != nil || done != nil {
			return done, err
		}
		current = next
	}
}

// step runs one attempt. It returns the run result to continue from, or a
// terminal outcome.
func (c *Controller) step(ctx context.Context, initial, current *evidence.RunResult, scope []string) (*evidence.RunResult, *Outcome, error) {
	c.attempt++
	log := c.log.With(zap.Int("attempt", c.attempt))

	// A rolled-back workspace is byte-identical to the last snapshot, so the
	// snapshot is reused and the loop goes straight back to fixing.
	if c.snap == nil {
		snap, err := c.deps.Workspace.Backup(fmt.Sprintf("attempt-%d", c.attempt), scope)
		if err != nil {
			return nil, nil, fmt.Errorf("backup attempt %d: %w", c.attempt, err)
		}
		c.snap = snap
		c.enter(StateBackedUp)
	}

	c.enter(StateFixing)
	patch, err := c.deps.Fixer.Apply(ctx, scope, current.Findings)
	if err != nil {
		if rerr := c.rollback(); rerr != nil {
			return nil, nil, rerr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		log.Warn("fix failed to execute", zap.Error(err))
		out, err := c.escalate(initial, current, escalation.Hint{
			Reason: escalation.ReasonExecutionFailed,
			Details: map[string]any{
				"attempt":        c.attempt,
				"failure_reason": err.Error(),
				"fix_actions":    patch.Actions,
			},
		})
		return nil, out, err
	}

	if patch.LinesChanged > c.policy.MaxPatchLines {
		if err := c.rollback(); err != nil {
			return nil, nil, err
		}
		log.Warn("patch budget exceeded",
			zap.Int("patch_lines", patch.LinesChanged),
			zap.Int("max_patch_lines", c.policy.MaxPatchLines))
		out, err := c.escalate(initial, current, escalation.Hint{
			Reason: escalation.ReasonPatchBudget,
			Details: map[string]any{
				"attempt":         c.attempt,
				"patch_lines":     patch.LinesChanged,
				"max_patch_lines": c.policy.MaxPatchLines,
				"files":           patch.Files,
			},
		})
		return nil, out, err
	}

	c.enter(StateEvaluating)
	post, err := c.deps.Gates.Run(ctx, initial.Mode, initial.Scope)
	if err != nil {
		if rerr := c.rollback(); rerr != nil {
			return nil, nil, rerr
		}
		return nil, nil, fmt.Errorf("re-run gates: %w", err)
	}

	before, after := current.Count(), post.Count()
	rec := evidence.RepairAttempt{
		Attempt:        c.attempt,
		BeforeFindings: before,
		PatchLines:     patch.LinesChanged,
		AfterFindings:  after,
		Outcome:        evidence.Classify(before, after),
		Patch:          patch,
		Post:           post,
	}

	if post.GateExecutionFailed {
		if err := c.rollback(); err != nil {
			return nil, nil, err
		}
		rec.RolledBack = true
		c.record(rec)
		out, err := c.escalate(initial, current, escalation.Hint{
			Reason:  escalation.ReasonExecutionFailed,
			Details: executionDetails(post, c.attempt),
		})
		return nil, out, err
	}

	if after == 0 {
		c.record(rec)
		out, err := c.pass(post)
		return nil, out, err
	}

	if rec.Outcome == evidence.Improved {
		c.record(rec)
		c.noImprove = 0
		c.discard()
		log.Info("attempt improved", zap.Int("before", before), zap.Int("after", after))
		return post, nil, nil
	}

	if err := c.rollback(); err != nil {
		return nil, nil, err
	}
	rec.RolledBack = true
	c.record(rec)
	c.noImprove++
	c.enter(StateRolledBack)
	log.Info("attempt rolled back",
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("before", before),
		zap.Int("after", after),
		zap.Int("consecutive_no_improvement", c.noImprove))

	if c.noImprove >= c.policy.AbortOnNoImprovement {
		out, err := c.escalate(initial, current, escalation.Hint{
			Reason:  escalation.ReasonNoImprovement,
			Details: map[string]any{"consecutive_no_improvement": c.noImprove},
		})
		return nil, out, err
	}
	return current, nil, nil
}

func (c *Controller) record(a evidence.RepairAttempt) {
	c.history = append(c.history, a)
	c.deps.Metrics.ObserveAttempt(a.Outcome)
}

// rollback restores the current snapshot and verifies it byte for byte.
func (c *Controller) rollback() error {
	if c.snap == nil {
		return nil
	}
	if err := c.deps.Workspace.Restore(c.snap); err != nil {
		return fmt.Errorf("restore %s: %w", c.snap.ID, err)
	}
	diffs, err := c.deps.Workspace.Verify(c.snap)
	if err != nil {
		return fmt.Errorf("verify %s: %w", c.snap.ID, err)
	}
	if len(diffs) > 0 {
		return fmt.Errorf("%w: %v", ErrRestoreMismatch, diffs)
	}
	c.log.Debug("workspace restored", zap.String("snapshot", c.snap.ID))
	return nil
}

func (c *Controller) discard() {
	if c.snap == nil {
		return
	}
	if !c.deps.KeepBackups {
		if err := c.deps.Workspace.Discard(c.snap); err != nil {
			c.log.Warn("discard snapshot", zap.String("snapshot", c.snap.ID), zap.Error(err))
		}
	}
	c.snap = nil
}

func (c *Controller) pass(final *evidence.RunResult) (*Outcome, error) {
	c.discard()
	c.enter(StatePassed)
	c.log.Info("repair passed", zap.Int("attempts", len(c.history)))
	return &Outcome{State: StatePassed, History: c.History(), Final: final, Elapsed: c.Elapsed()}, nil
}

func (c *Controller) escalate(initial, final *evidence.RunResult, hint escalation.Hint) (*Outcome, error) {
	c.discard()
	if hint.Details == nil {
		hint.Details = map[string]any{}
	}
	hint.Details["elapsed_seconds"] = int(c.Elapsed() / time.Second)

	ev := escalation.Decide(initial, c.history, hint)
	c.enter(StateEscalated)
	c.deps.Metrics.ObserveEscalation(ev.Code)
	c.log.Warn("repair escalated",
		zap.String("code", string(ev.Code)),
		zap.String("rationale", ev.Rationale),
		zap.Int("attempts", len(c.history)))
	return &Outcome{State: StateEscalated, History: c.History(), Final: final, Escalation: &ev, Elapsed: c.Elapsed()}, nil
}

func executionDetails(res *evidence.RunResult, attempt int) map[string]any {
	d := map[string]any{"attempt": attempt}
	failed := res.FailedToExecute()
	if len(failed) == 0 {
		return d
	}
	var reasons []string
	for _, g := range failed {
		reasons = append(reasons, fmt.Sprintf("%s: %s", g.Gate, g.Reason))
	}
	d["failure_reason"] = reasons[0]
	d["failed_gates"] = reasons
	for _, t := range res.Traces {
		if t.Gate == failed[0].Gate {
			d["failing_command"] = t.Command
			d["exit_code"] = t.ExitCode
			break
		}
	}
	return d
}
