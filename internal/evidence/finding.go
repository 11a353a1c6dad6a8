package evidence

import (
	"fmt"
	"strconv"
)

// Gate is one category of automated check.
type Gate string

const (
	GateLint      Gate = "lint"
	GateTypecheck Gate = "typecheck"
	GateTest      Gate = "test"
)

// Gates lists every gate in execution order.
var Gates = []Gate{GateLint, GateTypecheck, GateTest}

// ParseGate converts a gate name into a Gate.
func ParseGate(s string) (Gate, error) {
	for _, g := range Gates {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown gate %q", s)
}

// Severity is ordered: SeverityError is the most severe.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rank returns a comparable weight, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Finding is a single normalized problem reported by a gate.
type Finding struct {
	ID       string   `json:"id"`
	Gate     Gate     `json:"gate"`
	Severity Severity `json:"severity"`
	RuleCode string   `json:"rule_code"`
	FilePath string   `json:"file_path,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Message  string   `json:"message"`
}

// NewFinding builds a Finding and derives its identity from
// (gate, rule, path, line, column).
func NewFinding(gate Gate, sev Severity, rule, path string, line, col int, message string) Finding {
	return Finding{
		ID:       Identity(gate, rule, path, line, col),
		Gate:     gate,
		Severity: sev,
		RuleCode: rule,
		FilePath: path,
		Line:     line,
		Column:   col,
		Message:  message,
	}
}

// Identity renders the stable identity of a finding location.
func Identity(gate Gate, rule, path string, line, col int) string {
	return string(gate) + ":" + rule + ":" + path + ":" + strconv.Itoa(line) + ":" + strconv.Itoa(col)
}

// Same reports whether two findings describe the same problem. Message text
// is ignored so tool-version wording drift does not break diffing.
func (f Finding) Same(other Finding) bool {
	return f.ID == other.ID
}

// AssignIDs recomputes identities in report order and disambiguates exact
// duplicates with a "#n" suffix. The result is a fresh slice.
func AssignIDs(findings []Finding) []Finding {
	out := make([]Finding, len(findings))
	seen := make(map[string]int, len(findings))
	for i, f := range findings {
		id := Identity(f.Gate, f.RuleCode, f.FilePath, f.Line, f.Column)
		seen[id]++
		if n := seen[id]; n > 1 {
			id = id + "#" + strconv.Itoa(n)
		}
		f.ID = id
		out[i] = f
	}
	return out
}

// Diff splits current findings into those also present in previous
// (persisting) and those that are new, matched by identity.
func Diff(previous, current []Finding) (persisting, appeared []Finding) {
	prev := make(map[string]bool, len(previous))
	for _, f := range previous {
		prev[f.ID] = true
	}
	for _, f := range current {
		if prev[f.ID] {
			persisting = append(persisting, f)
		} else {
			appeared = append(appeared, f)
		}
	}
	return persisting, appeared
}
