package evidence

// Outcome tags a repair attempt by comparing finding counts.
type Outcome string

const (
	Improved  Outcome = "improved"
	Unchanged Outcome = "unchanged"
	Worsened  Outcome = "worsened"
)

// Classify compares pre- and post-attempt finding counts. Severity is not
// weighted.
func Classify(before, after int) Outcome {
	switch {
	case after < before:
		return Improved
	case after > before:
		return Worsened
	default:
		return Unchanged
	}
}

// FixAction records one command the fix strategy ran.
type FixAction struct {
	RuleID    string   `json:"rule_id"`
	Strategy  string   `json:"strategy"`
	Command   string   `json:"command"`
	ExitCode  int      `json:"exit_code"`
	Accepted  bool     `json:"accepted"`
	Files     []string `json:"files"`
	Rationale string   `json:"rationale,omitempty"`
}

// PatchSummary is what a fix strategy reports after touching the workspace.
type PatchSummary struct {
	FilesChanged int         `json:"files_changed"`
	LinesChanged int         `json:"lines_changed"`
	Files        []string    `json:"files,omitempty"`
	Actions      []FixAction `json:"actions,omitempty"`
}

// RepairAttempt is one backup → fix → re-run → decide cycle.
type RepairAttempt struct {
	Attempt        int          `json:"attempt"`
	BeforeFindings int          `json:"before_findings"`
	PatchLines     int          `json:"patch_lines"`
	AfterFindings  int          `json:"after_findings"`
	Outcome        Outcome      `json:"outcome"`
	RolledBack     bool         `json:"rolled_back"`
	Patch          PatchSummary `json:"patch"`
	Post           *RunResult   `json:"post_run"`
}

// EscalationCode is the closed set of escalation reasons.
type EscalationCode string

const (
	CodeNoImprovement                   EscalationCode = "NO_IMPROVEMENT"
	CodePatchBudgetExceeded             EscalationCode = "PATCH_BUDGET_EXCEEDED"
	CodeUnknownBlocker                  EscalationCode = "UNKNOWN_BLOCKER"
	CodeUnresolvedDeterministicFailures EscalationCode = "UNRESOLVED_DETERMINISTIC_FAILURES"

	// Reserved: not derivable from deterministic signals.
	CodeArchitecturalChangeRequired EscalationCode = "ARCHITECTURAL_CHANGE_REQUIRED"
	CodeFlakyEvaluator              EscalationCode = "FLAKY_EVALUATOR"
	CodeEnvironmentDrift            EscalationCode = "ENVIRONMENT_DRIFT"
	CodeTestFixtureOrExternalDep    EscalationCode = "TEST_FIXTURE_OR_EXTERNAL_DEP"
)

// Reserved reports whether the code is a forward-compatible reservation.
func (c EscalationCode) Reserved() bool {
	switch c {
	case CodeArchitecturalChangeRequired, CodeFlakyEvaluator, CodeEnvironmentDrift, CodeTestFixtureOrExternalDep:
		return true
	}
	return false
}

// EscalationEvidence is the terminal record of a non-success repair.
type EscalationEvidence struct {
	Status    string          `json:"status"`
	Code      EscalationCode  `json:"reason_code"`
	Rationale string          `json:"message"`
	History   []RepairAttempt `json:"attempts"`
	Remaining []Finding       `json:"remaining_findings"`
	Details   map[string]any  `json:"evidence,omitempty"`
}
