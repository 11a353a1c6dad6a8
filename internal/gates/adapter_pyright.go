package gates

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// PyrightAdapter parses `pyright --outputjson` output. Pyright positions are
// 0-indexed; findings use 1-indexed lines and columns. Information-level
// diagnostics are dropped.
type PyrightAdapter struct{}

type pyrightOutput struct {
	GeneralDiagnostics *[]pyrightDiagnostic `json:"generalDiagnostics"`
}

type pyrightDiagnostic struct {
	File     string `json:"file"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Rule     string `json:"rule"`
	Range    struct {
		Start struct {
			Line      int `json:"line"`
			Character int `json:"character"`
		} `json:"start"`
	} `json:"range"`
}

func (a *PyrightAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	var raw pyrightOutput
	if err := json.Unmarshal([]byte(out.Stdout), &raw); err != nil || raw.GeneralDiagnostics == nil {
		return Parsed{Unparseable: true, Summary: fmt.Sprintf("exit code %d (could not parse pyright JSON)", out.ExitCode)}
	}

	var findings []evidence.Finding
	errs, warns := 0, 0
	for _, d := range *raw.GeneralDiagnostics {
		var sev evidence.Severity
		switch d.Severity {
		case "information":
			continue
		case "warning":
			sev = evidence.SeverityWarning
			warns++
		default:
			sev = evidence.SeverityError
			errs++
		}
		rule := d.Rule
		if rule == "" {
			rule = "pyright"
		}
		findings = append(findings, evidence.NewFinding(
			gate, sev, rule,
			relPath(out.Root, d.File), d.Range.Start.Line+1, d.Range.Start.Character+1,
			d.Message,
		))
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d errors, %d warnings", errs, warns)}
}
