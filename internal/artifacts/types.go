package artifacts

import (
	"fmt"

	"github.com/lucasnoah/qualitygate/internal/envinfo"
	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// SchemaVersion is stamped on every failures payload.
const SchemaVersion = "1.0.0"

// InferredHint is a low-confidence pointer attached to a finding.
type InferredHint struct {
	FindingID  string `json:"finding_id"`
	Hint       string `json:"hint"`
	Confidence string `json:"confidence"`
}

// ConfidenceLow marks hints derived only from the gate a finding came from.
const ConfidenceLow = "low"

// HintsFor returns one gate-derived hint per finding.
func HintsFor(findings []evidence.Finding) []InferredHint {
	hints := make([]InferredHint, 0, len(findings))
	for _, f := range findings {
		hints = append(hints, InferredHint{
			FindingID: f.ID,
			Hint: fmt.Sprintf("Start with the deterministic gate failure in %s. "+
				"Inspect command output in run-metadata traces.", f.Gate),
			Confidence: ConfidenceLow,
		})
	}
	return hints
}

// Failures is the failures.json payload written by every run.
type Failures struct {
	Version             string                 `json:"version"`
	RunID               string                 `json:"run_id"`
	Mode                evidence.Mode          `json:"mode"`
	Status              evidence.RunStatus     `json:"status"`
	Timestamp           string                 `json:"timestamp"`
	Repo                string                 `json:"repo,omitempty"`
	Branch              string                 `json:"branch,omitempty"`
	ChangedFiles        []string               `json:"changed_files"`
	Gates               []evidence.GateOutcome `json:"gates"`
	Findings            []evidence.Finding     `json:"findings"`
	InferredHints       []InferredHint         `json:"inferred_hints"`
	GateExecutionFailed bool                   `json:"gate_execution_failed"`
}

// RunResult rebuilds the orchestrator result recorded in the payload.
// Command traces live in run-metadata.json and are not restored.
func (f *Failures) RunResult() *evidence.RunResult {
	return &evidence.RunResult{
		Mode:                f.Mode,
		Scope:               f.ChangedFiles,
		Gates:               f.Gates,
		Findings:            f.Findings,
		GateExecutionFailed: f.GateExecutionFailed,
	}
}

// RunMetadata is the run-metadata.json payload.
type RunMetadata struct {
	RunID         string                  `json:"run_id"`
	Mode          evidence.Mode           `json:"mode"`
	StartedAt     string                  `json:"started_at"`
	CompletedAt   string                  `json:"completed_at"`
	DurationMs    int64                   `json:"duration_ms"`
	ConfigSource  string                  `json:"config_source"`
	Environment   envinfo.Info            `json:"environment"`
	CommandTraces []evidence.CommandTrace `json:"command_traces"`
}

// RepairReport is written when the repair loop converges.
type RepairReport struct {
	Status   string                   `json:"status"`
	Attempts []evidence.RepairAttempt `json:"attempts"`
}
