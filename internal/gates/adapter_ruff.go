package gates

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// RuffAdapter parses `ruff check --output-format json` output.
type RuffAdapter struct{}

type ruffViolation struct {
	Code     *string `json:"code"`
	Message  string  `json:"message"`
	Filename string  `json:"filename"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

// ruffSeverity maps pycodestyle errors and pyflakes to error, everything
// else to warning. Syntax errors carry no code.
func ruffSeverity(code string) evidence.Severity {
	if code == "" {
		return evidence.SeverityError
	}
	switch strings.ToUpper(code[:1]) {
	case "E", "F":
		return evidence.SeverityError
	}
	return evidence.SeverityWarning
}

func (a *RuffAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	var violations []ruffViolation
	if err := json.Unmarshal([]byte(out.Stdout), &violations); err != nil {
		return Parsed{Unparseable: true, Summary: fmt.Sprintf("exit code %d (could not parse ruff JSON)", out.ExitCode)}
	}

	var findings []evidence.Finding
	for _, v := range violations {
		code := ""
		if v.Code != nil {
			code = *v.Code
		}
		rule := code
		if rule == "" {
			rule = "syntax-error"
		}
		findings = append(findings, evidence.NewFinding(
			gate, ruffSeverity(code), rule,
			relPath(out.Root, v.Filename), v.Location.Row, v.Location.Column,
			v.Message,
		))
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d violations", len(findings))}
}
