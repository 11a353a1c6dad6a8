// Package brief turns a failures payload into the agent brief: one priority
// action per finding, the retry policy and whether escalation is expected.
package brief

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/qualitygate/internal/artifacts"
	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// Scope is the blast radius of a priority action.
type Scope string

const (
	ScopeSingleFile  Scope = "single_file"
	ScopeMultiFile   Scope = "multi_file"
	ScopeCrossModule Scope = "cross_module"
)

// ScopeFor classifies the files an action targets. Zero files counts as
// multi_file since the fix location is unknown.
func ScopeFor(files []string) Scope {
	switch {
	case len(files) == 1:
		return ScopeSingleFile
	case len(files) <= 3:
		return ScopeMultiFile
	default:
		return ScopeCrossModule
	}
}

var gateActions = map[evidence.Gate]string{
	evidence.GateLint:      "Apply targeted lint fixes and re-run lint deterministically.",
	evidence.GateTypecheck: "Resolve type errors in the impacted files and re-run typecheck.",
	evidence.GateTest:      "Fix the failing tests and make sure the test gate passes.",
}

// PriorityAction is what an agent should do about one finding.
type PriorityAction struct {
	FindingID   string   `json:"finding_id"`
	Action      string   `json:"action"`
	Scope       Scope    `json:"scope"`
	TargetFiles []string `json:"target_files"`
	Rationale   string   `json:"rationale"`
	Hint        string   `json:"hint,omitempty"`
}

// RetryPolicy mirrors the repair budgets the agent will be held to.
type RetryPolicy struct {
	MaxAttempts          int `json:"max_attempts"`
	MaxPatchLines        int `json:"max_patch_lines"`
	AbortOnNoImprovement int `json:"abort_on_no_improvement"`
	TimeCapSeconds       int `json:"time_cap_seconds"`
}

// Escalation says whether a failing run is expected to need a human.
type Escalation struct {
	Required   bool                    `json:"required"`
	ReasonCode evidence.EscalationCode `json:"reason_code,omitempty"`
	Message    string                  `json:"message,omitempty"`
}

// Brief is the agent-brief.json payload.
type Brief struct {
	RunID           string             `json:"run_id"`
	Mode            evidence.Mode      `json:"mode"`
	Status          evidence.RunStatus `json:"status"`
	Summary         string             `json:"summary"`
	PriorityActions []PriorityAction   `json:"priority_actions"`
	RetryPolicy     RetryPolicy        `json:"retry_policy"`
	Escalation      *Escalation        `json:"escalation"`
}

// Build summarizes a failures payload. It does not touch the filesystem.
func Build(f *artifacts.Failures, policy RetryPolicy) *Brief {
	hints := make(map[string]string, len(f.InferredHints))
	for _, h := range f.InferredHints {
		if _, ok := hints[h.FindingID]; !ok {
			hints[h.FindingID] = h.Hint
		}
	}

	actions := make([]PriorityAction, 0, len(f.Findings))
	for _, fd := range f.Findings {
		files := []string{}
		if fd.FilePath != "" {
			files = append(files, fd.FilePath)
		}
		action, ok := gateActions[fd.Gate]
		if !ok {
			action = fmt.Sprintf("Address %s failure.", fd.Gate)
		}
		actions = append(actions, PriorityAction{
			FindingID:   fd.ID,
			Action:      action,
			Scope:       ScopeFor(files),
			TargetFiles: files,
			Rationale:   fmt.Sprintf("%s failed deterministically. Address this before any inferred optimizations.", fd.Gate),
			Hint:        hints[fd.ID],
		})
	}

	b := &Brief{
		RunID:           f.RunID,
		Mode:            f.Mode,
		Status:          f.Status,
		PriorityActions: actions,
		RetryPolicy:     policy,
	}

	switch {
	case f.Status == evidence.StatusPass:
		b.Summary = "All deterministic gates passed."
		b.Escalation = &Escalation{Required: false}
	case f.GateExecutionFailed:
		b.Summary = fmt.Sprintf("%d deterministic finding(s) require repair; at least one gate could not run.", len(f.Findings))
		b.Escalation = &Escalation{
			Required:   true,
			ReasonCode: evidence.CodeUnknownBlocker,
			Message:    "A gate failed to execute. Fix the tool setup before attempting repairs: " + failedGates(f.Gates) + ".",
		}
	default:
		b.Summary = fmt.Sprintf("%d deterministic finding(s) require repair.", len(f.Findings))
		b.Escalation = &Escalation{
			Required:   true,
			ReasonCode: evidence.CodeUnresolvedDeterministicFailures,
			Message:    "Escalate with evidence packet if bounded repair loop cannot clear deterministic failures.",
		}
	}
	return b
}

func failedGates(gates []evidence.GateOutcome) string {
	var parts []string
	for _, g := range gates {
		if g.Status == evidence.GateError {
			parts = append(parts, fmt.Sprintf("%s (%s)", g.Gate, g.Reason))
		}
	}
	if len(parts) == 0 {
		return "unknown gate"
	}
	return strings.Join(parts, ", ")
}

// Markdown renders the brief for humans and agents that read prose.
func (b *Brief) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# qgate agent brief: %s\n\n", b.RunID)
	fmt.Fprintf(&sb, "**Mode:** %s  \n", b.Mode)
	fmt.Fprintf(&sb, "**Status:** %s  \n", b.Status)
	fmt.Fprintf(&sb, "**Summary:** %s\n\n", b.Summary)

	if len(b.PriorityActions) > 0 {
		sb.WriteString("## Findings & Actions\n\n")
		for _, a := range b.PriorityActions {
			fmt.Fprintf(&sb, "### `%s`\n", a.FindingID)
			fmt.Fprintf(&sb, "- **Action:** %s\n", a.Action)
			fmt.Fprintf(&sb, "- **Scope:** %s\n", a.Scope)
			if len(a.TargetFiles) > 0 {
				fmt.Fprintf(&sb, "- **Files:** %s\n", strings.Join(a.TargetFiles, ", "))
			}
			fmt.Fprintf(&sb, "- **Rationale:** %s\n", a.Rationale)
			if a.Hint != "" {
				fmt.Fprintf(&sb, "- **Hint:** %s\n", a.Hint)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("## Retry Policy\n\n")
	fmt.Fprintf(&sb, "- Max attempts: %d\n", b.RetryPolicy.MaxAttempts)
	fmt.Fprintf(&sb, "- Max patch lines: %d\n", b.RetryPolicy.MaxPatchLines)
	fmt.Fprintf(&sb, "- Abort on no improvement: %d consecutive attempts\n", b.RetryPolicy.AbortOnNoImprovement)
	if b.RetryPolicy.TimeCapSeconds > 0 {
		fmt.Fprintf(&sb, "- Time cap: %ds\n", b.RetryPolicy.TimeCapSeconds)
	}
	sb.WriteString("\n")

	if b.Escalation != nil {
		sb.WriteString("## Escalation\n\n")
		fmt.Fprintf(&sb, "- Required: %t\n", b.Escalation.Required)
		if b.Escalation.ReasonCode != "" {
			fmt.Fprintf(&sb, "- Reason: %s\n", b.Escalation.ReasonCode)
		}
		if b.Escalation.Message != "" {
			fmt.Fprintf(&sb, "- Message: %s\n", b.Escalation.Message)
		}
	}
	return sb.String()
}
