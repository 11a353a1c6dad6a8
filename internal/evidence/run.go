package evidence

import "fmt"

// Mode selects the gate set for a run.
type Mode string

const (
	ModeCanary Mode = "canary"
	ModeFull   Mode = "full"
)

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCanary, ModeFull:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (want canary or full)", s)
}

// GateStatus is the per-gate outcome of a run.
type GateStatus string

const (
	GatePass    GateStatus = "pass"
	GateFail    GateStatus = "fail"
	GateSkipped GateStatus = "skipped"
	GateError   GateStatus = "error"
)

// GateOutcome summarizes one gate within a run.
type GateOutcome struct {
	Gate       Gate       `json:"name"`
	Status     GateStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Findings   int        `json:"findings"`
}

// RunStatus is the overall status of a run.
type RunStatus string

const (
	StatusPass RunStatus = "pass"
	StatusFail RunStatus = "fail"
)

// RunResult is the output of one orchestrator invocation.
type RunResult struct {
	Mode                Mode           `json:"mode"`
	Scope               []string       `json:"changed_files"`
	Gates               []GateOutcome  `json:"gates"`
	Findings            []Finding      `json:"findings"`
	Traces              []CommandTrace `json:"-"`
	GateExecutionFailed bool           `json:"gate_execution_failed"`
}

// Count returns the number of findings.
func (r *RunResult) Count() int {
	return len(r.Findings)
}

// Status is pass only when no gate failed to execute and nothing was found.
func (r *RunResult) Status() RunStatus {
	if r.GateExecutionFailed || len(r.Findings) > 0 {
		return StatusFail
	}
	return StatusPass
}

// Files returns the de-duplicated finding file set in report order.
func (r *RunResult) Files() []string {
	return FilesOf(r.Findings)
}

// HasGate reports whether any finding came from gate g.
func (r *RunResult) HasGate(g Gate) bool {
	for _, f := range r.Findings {
		if f.Gate == g {
			return true
		}
	}
	return false
}

// Skipped returns the outcomes of gates that did not run.
func (r *RunResult) Skipped() []GateOutcome {
	var out []GateOutcome
	for _, g := range r.Gates {
		if g.Status == GateSkipped {
			out = append(out, g)
		}
	}
	return out
}

// FailedToExecute returns the gates flagged as execution failures.
func (r *RunResult) FailedToExecute() []GateOutcome {
	var out []GateOutcome
	for _, g := range r.Gates {
		if g.Status == GateError {
			out = append(out, g)
		}
	}
	return out
}

// FilesOf returns the distinct non-empty file paths of findings, in order.
func FilesOf(findings []Finding) []string {
	seen := make(map[string]bool)
	var files []string
	for _, f := range findings {
		if f.FilePath == "" || seen[f.FilePath] {
			continue
		}
		seen[f.FilePath] = true
		files = append(files, f.FilePath)
	}
	return files
}
