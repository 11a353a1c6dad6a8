package gates

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// PytestAdapter parses the pytest-json-report report file. Without a report
// it falls back to the FAILED/ERROR lines of pytest's short test summary.
type PytestAdapter struct{}

type pytestReport struct {
	Tests      []pytestTest      `json:"tests"`
	Collectors []pytestCollector `json:"collectors"`
}

type pytestTest struct {
	NodeID   string       `json:"nodeid"`
	Outcome  string       `json:"outcome"`
	Setup    *pytestPhase `json:"setup"`
	Call     *pytestPhase `json:"call"`
	Teardown *pytestPhase `json:"teardown"`
}

type pytestPhase struct {
	Outcome  string `json:"outcome"`
	Longrepr string `json:"longrepr"`
}

type pytestCollector struct {
	NodeID   string `json:"nodeid"`
	Outcome  string `json:"outcome"`
	Longrepr string `json:"longrepr"`
}

// FAILED tests/test_x.py::test_y - AssertionError: boom
var pytestSummaryRe = regexp.MustCompile(`^(FAILED|ERROR)\s+(\S+)(?:\s+-\s+(.*))?$`)

func (a *PytestAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	if out.Report != nil {
		return a.parseReport(gate, out)
	}
	return a.parseSummary(gate, out)
}

func (a *PytestAdapter) parseReport(gate evidence.Gate, out Output) Parsed {
	var rep pytestReport
	if err := json.Unmarshal(out.Report, &rep); err != nil {
		return Parsed{Unparseable: true, Summary: "could not parse pytest JSON report"}
	}

	var findings []evidence.Finding
	for _, c := range rep.Collectors {
		if c.Outcome != "failed" {
			continue
		}
		findings = append(findings, evidence.NewFinding(
			gate, evidence.SeverityError, "collection-error",
			nodePath(out.Root, c.NodeID), 0, 0,
			message(c.NodeID, c.Longrepr, "could not be collected"),
		))
	}
	for _, t := range rep.Tests {
		if t.Outcome != "failed" && t.Outcome != "error" {
			continue
		}
		findings = append(findings, evidence.NewFinding(
			gate, evidence.SeverityError, t.NodeID,
			nodePath(out.Root, t.NodeID), 0, 0,
			message(t.NodeID, t.longrepr(), t.Outcome),
		))
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d failing tests", len(findings))}
}

func (a *PytestAdapter) parseSummary(gate evidence.Gate, out Output) Parsed {
	var findings []evidence.Finding
	for _, line := range strings.Split(out.Stdout, "\n") {
		m := pytestSummaryRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		outcome := "failed"
		if m[1] == "ERROR" {
			outcome = "error"
		}
		findings = append(findings, evidence.NewFinding(
			gate, evidence.SeverityError, m[2],
			nodePath(out.Root, m[2]), 0, 0,
			message(m[2], m[3], outcome),
		))
	}
	if len(findings) == 0 {
		return Parsed{Unparseable: true, Summary: fmt.Sprintf("exit code %d (no pytest report and no failure summary)", out.ExitCode)}
	}
	return Parsed{Findings: findings, Summary: fmt.Sprintf("%d failing tests", len(findings))}
}

func (t pytestTest) longrepr() string {
	for _, p := range []*pytestPhase{t.Call, t.Setup, t.Teardown} {
		if p != nil && p.Longrepr != "" {
			return p.Longrepr
		}
	}
	return ""
}

func nodePath(root, nodeID string) string {
	file, _, _ := strings.Cut(nodeID, "::")
	return relPath(root, file)
}

func message(nodeID, longrepr, outcome string) string {
	if first := firstLine(longrepr, 200); first != "" {
		return nodeID + ": " + first
	}
	return nodeID + " " + outcome
}
