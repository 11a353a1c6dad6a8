package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/lucasnoah/qualitygate/internal/evidence"
	"github.com/lucasnoah/qualitygate/internal/repair"
)

// maxListedFindings caps the findings printed after a run.
const maxListedFindings = 20

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	dimColor  = color.New(color.FgHiBlack)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func gateLabel(s evidence.GateStatus) string {
	switch s {
	case evidence.GatePass:
		return passColor.Sprintf("%-5s", "PASS")
	case evidence.GateFail:
		return failColor.Sprintf("%-5s", "FAIL")
	case evidence.GateError:
		return failColor.Sprintf("%-5s", "ERROR")
	}
	return dimColor.Sprintf("%-5s", "SKIP")
}

func printRun(w io.Writer, a *app, gr *gateRun) error {
	if flagJSON {
		return printJSON(w, map[string]any{
			"run_id":        gr.failures.RunID,
			"status":        gr.failures.Status,
			"failures_path": a.store.FailuresPath(),
			"metadata_path": a.store.RunMetadataPath(),
		})
	}

	for _, g := range gr.result.Gates {
		switch g.Status {
		case evidence.GatePass, evidence.GateFail:
			fmt.Fprintf(w, "%s %-9s %d findings (%dms)\n", gateLabel(g.Status), g.Gate, g.Findings, g.DurationMs)
		default:
			fmt.Fprintf(w, "%s %-9s %s\n", gateLabel(g.Status), g.Gate, g.Reason)
		}
	}
	for i, f := range gr.result.Findings {
		if i == maxListedFindings {
			fmt.Fprintf(w, "  ... %d more\n", len(gr.result.Findings)-maxListedFindings)
			break
		}
		loc := f.FilePath
		if loc == "" {
			loc = "-"
		} else if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", f.FilePath, f.Line, f.Column)
		}
		fmt.Fprintf(w, "  %s %s %s\n", loc, f.RuleCode, f.Message)
	}

	status := passColor.Sprint("pass")
	if gr.result.Status() != evidence.StatusPass {
		status = failColor.Sprint("fail")
	}
	fmt.Fprintf(w, "qgate %s: %d findings, run %s\n", status, gr.result.Count(), gr.failures.RunID)
	fmt.Fprintf(w, "failures: %s\n", a.rel(a.store.FailuresPath()))
	return nil
}

func printRepair(w io.Writer, a *app, out *repair.Outcome) error {
	if flagJSON {
		if out.Passed() {
			return printJSON(w, repairReport(out))
		}
		return printJSON(w, out.Escalation)
	}

	for _, at := range out.History {
		line := fmt.Sprintf("attempt %d: %d -> %d findings, %d patch lines, %s",
			at.Attempt, at.BeforeFindings, at.AfterFindings, at.PatchLines, at.Outcome)
		if at.RolledBack {
			line += " (rolled back)"
		}
		fmt.Fprintln(w, line)
	}
	if out.Passed() {
		fmt.Fprintf(w, "%s after %d attempt(s)\n", passColor.Sprint("PASSED"), len(out.History))
		fmt.Fprintf(w, "report: %s\n", a.rel(a.store.RepairReportPath()))
		return nil
	}
	ev := out.Escalation
	fmt.Fprintf(w, "%s %s: %s\n", warnColor.Sprint("ESCALATED"), ev.Code, ev.Rationale)
	fmt.Fprintf(w, "remaining: %d findings\n", len(ev.Remaining))
	fmt.Fprintf(w, "report: %s\n", a.rel(a.store.EscalationPath()))
	return nil
}
