// Package escalation turns a terminated repair history into exactly one
// escalation code and its rationale.
package escalation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// Reason is the terminal condition reported by the repair loop.
type Reason string

const (
	ReasonPatchBudget       Reason = "patch_budget"
	ReasonExecutionFailed   Reason = "execution_failed"
	ReasonNoImprovement     Reason = "no_improvement"
	ReasonAttemptsExhausted Reason = "attempts_exhausted"
	ReasonTimeCap           Reason = "time_cap"
)

// Hint carries the terminal condition and the measurements that go with it
// (patch size and budget, elapsed time, the failing command).
type Hint struct {
	Reason  Reason
	Details map[string]any
}

// StatusEscalated is the status recorded on every escalation.
const StatusEscalated = "escalated"

// Decide selects the escalation code for a terminated repair. It has no side
// effects; the history is copied into the result.
func Decide(initial *evidence.RunResult, history []evidence.RepairAttempt, hint Hint) evidence.EscalationEvidence {
	remaining := Remaining(initial, history)

	details := make(map[string]any, len(hint.Details)+2)
	for k, v := range hint.Details {
		details[k] = v
	}
	details["terminal_reason"] = string(hint.Reason)
	details["remaining_gates"] = gatesOf(remaining)

	code, rationale := classify(initial, history, remaining, hint)
	return evidence.EscalationEvidence{
		Status:    StatusEscalated,
		Code:      code,
		Rationale: rationale,
		History:   append([]evidence.RepairAttempt{}, history...),
		Remaining: remaining,
		Details:   details,
	}
}

func classify(initial *evidence.RunResult, history []evidence.RepairAttempt, remaining []evidence.Finding, hint Hint) (evidence.EscalationCode, string) {
	switch hint.Reason {
	case ReasonPatchBudget:
		return evidence.CodePatchBudgetExceeded, fmt.Sprintf(
			"Patch exceeded budget: %v lines > %v max. The edit was rolled back before gates were re-run.",
			hint.Details["patch_lines"], hint.Details["max_patch_lines"])

	case ReasonExecutionFailed:
		what := "a gate or fix command"
		if c, ok := hint.Details["failing_command"].(string); ok && c != "" {
			what = fmt.Sprintf("%q", c)
		}
		msg := fmt.Sprintf("Tool execution failed: %s could not run to a usable result", what)
		if r, ok := hint.Details["failure_reason"].(string); ok && r != "" {
			msg += " (" + r + ")"
		}
		return evidence.CodeUnknownBlocker, msg + ". Tool failures are not retried."

	case ReasonNoImprovement:
		return evidence.CodeNoImprovement, fmt.Sprintf(
			"No improvement in %v consecutive attempt(s); %d finding(s) remain after %d attempt(s).",
			hint.Details["consecutive_no_improvement"], len(remaining), len(history))
	}

	// Attempts or time exhausted.
	stop := fmt.Sprintf("%d attempt(s)", len(history))
	if hint.Reason == ReasonTimeCap {
		stop = fmt.Sprintf("the time cap of %vs after %s", hint.Details["time_cap_seconds"], stop)
	}

	if len(remaining) > 0 && onlyUnfixable(remaining) {
		return evidence.CodeUnresolvedDeterministicFailures, fmt.Sprintf(
			"%d %s finding(s) remain after %s; deterministic fixes do not address typecheck or test failures. Original failures in: %s.",
			len(remaining), strings.Join(gatesOf(remaining), "/"), stop, originalFiles(initial))
	}
	return evidence.CodeUnknownBlocker, fmt.Sprintf(
		"Repair stopped at %s with %d finding(s) remaining, including findings the fixer could have addressed.",
		stop, len(remaining))
}

// Remaining returns the findings left at termination: the initial findings,
// replaced by the post-run findings of every attempt that was kept.
func Remaining(initial *evidence.RunResult, history []evidence.RepairAttempt) []evidence.Finding {
	var current []evidence.Finding
	if initial != nil {
		current = initial.Findings
	}
	for _, a := range history {
		if !a.RolledBack && a.Post != nil {
			current = a.Post.Findings
		}
	}
	return append([]evidence.Finding{}, current...)
}

func onlyUnfixable(findings []evidence.Finding) bool {
	for _, f := range findings {
		if f.Gate == evidence.GateLint {
			return false
		}
	}
	return true
}

func gatesOf(findings []evidence.Finding) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, f := range findings {
		if !seen[string(f.Gate)] {
			seen[string(f.Gate)] = true
			out = append(out, string(f.Gate))
		}
	}
	sort.Strings(out)
	return out
}

func originalFiles(initial *evidence.RunResult) string {
	if initial == nil {
		return "(no file paths reported)"
	}
	files := initial.Files()
	if len(files) == 0 {
		return "(no file paths reported)"
	}
	return strings.Join(files, ", ")
}
