package gates

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// ESLintAdapter parses `eslint --format json` output.
type ESLintAdapter struct{}

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   *string `json:"ruleId"`
	Severity int     `json:"severity"` // 1=warning, 2=error
	Message  string  `json:"message"`
	Line     int     `json:"line"`
	Column   int     `json:"column"`
}

func (a *ESLintAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	var files []eslintFile
	if err := json.Unmarshal([]byte(out.Stdout), &files); err != nil {
		return Parsed{Unparseable: true, Summary: fmt.Sprintf("exit code %d (could not parse ESLint JSON)", out.ExitCode)}
	}

	var findings []evidence.Finding
	errs, warns := 0, 0
	for _, f := range files {
		for _, m := range f.Messages {
			sev := evidence.SeverityWarning
			if m.Severity == 2 {
				sev = evidence.SeverityError
				errs++
			} else {
				warns++
			}
			rule := "eslint"
			if m.RuleID != nil && *m.RuleID != "" {
				rule = *m.RuleID
			}
			findings = append(findings, evidence.NewFinding(
				gate, sev, rule, relPath(out.Root, f.FilePath), m.Line, m.Column, m.Message,
			))
		}
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d errors, %d warnings", errs, warns)}
}

// TypeScriptAdapter parses `tsc --noEmit` output.
type TypeScriptAdapter struct{}

// src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (a *TypeScriptAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	var findings []evidence.Finding
	for _, line := range strings.Split(out.Stdout, "\n") {
		m := tscLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		findings = append(findings, evidence.NewFinding(
			gate, evidence.SeverityError, m[4], relPath(out.Root, m[1]), lineNum, col, m[5],
		))
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d errors", len(findings))}
}

// VitestAdapter parses vitest/jest JSON reporter output.
type VitestAdapter struct{}

type vitestOutput struct {
	NumFailedTests int                 `json:"numFailedTests"`
	TestResults    []vitestSuiteResult `json:"testResults"`
}

type vitestSuiteResult struct {
	Name             string                  `json:"name"`
	Status           string                  `json:"status"`
	Message          string                  `json:"message"`
	AssertionResults []vitestAssertionResult `json:"assertionResults"`
}

type vitestAssertionResult struct {
	FullName        string   `json:"fullName"`
	Status          string   `json:"status"`
	FailureMessages []string `json:"failureMessages"`
	Location        *struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"location"`
}

func (a *VitestAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	data := out.Report
	if data == nil {
		data = []byte(out.Stdout)
	}
	var raw vitestOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return Parsed{Unparseable: true, Summary: fmt.Sprintf("exit code %d (could not parse test JSON)", out.ExitCode)}
	}

	var findings []evidence.Finding
	for _, suite := range raw.TestResults {
		file := relPath(out.Root, suite.Name)
		failedAssertions := 0
		for _, r := range suite.AssertionResults {
			if r.Status != "failed" {
				continue
			}
			failedAssertions++
			line, col := 0, 0
			if r.Location != nil {
				line, col = r.Location.Line, r.Location.Column
			}
			msg := r.FullName
			if len(r.FailureMessages) > 0 {
				msg += ": " + firstLine(r.FailureMessages[0], 200)
			}
			findings = append(findings, evidence.NewFinding(gate, evidence.SeverityError, r.FullName, file, line, col, msg))
		}
		// A suite that fails without failing assertions did not load.
		if suite.Status == "failed" && failedAssertions == 0 {
			findings = append(findings, evidence.NewFinding(
				gate, evidence.SeverityError, "suite-error", file, 0, 0, firstLine(suite.Message, 200),
			))
		}
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d failing tests", len(findings))}
}

// PrettierAdapter parses `prettier --check` output.
type PrettierAdapter struct{}

func (a *PrettierAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	// Checking formatting...
	// [warn] src/auth.ts
	// [warn] Code style issues found in the above file(s). Forgot to run Prettier?
	var findings []evidence.Finding
	for _, line := range strings.Split(out.Stdout+"\n"+out.Stderr, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[warn] ") {
			continue
		}
		file := strings.TrimPrefix(line, "[warn] ")
		if strings.Contains(file, "Code style issues") || strings.Contains(file, "Forgot to run") {
			continue
		}
		findings = append(findings, evidence.NewFinding(
			gate, evidence.SeverityWarning, "format", relPath(out.Root, file), 0, 0, "file is not formatted",
		))
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d files need formatting", len(findings))}
}
