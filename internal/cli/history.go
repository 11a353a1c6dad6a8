package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/qualitygate/internal/analytics"
	"github.com/lucasnoah/qualitygate/internal/artifacts"
	"github.com/lucasnoah/qualitygate/internal/db"
	"github.com/lucasnoah/qualitygate/internal/web"
)

var (
	historyLimit int
	historyYes   bool
	historySince string
	historyAddr  string
)

// openHistory opens the history store for the history commands, which
// unlike gate runs cannot work without it.
func openHistory() (*db.DB, error) {
	if flagNoHistory {
		return nil, usageError("history is disabled by --no-history")
	}
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	h, err := db.Open(historyDSN(cfg, artifacts.NewStore(root)))
	if err != nil {
		return nil, err
	}
	if err := h.Migrate(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	return table
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		runs, err := h.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		table := newTable(cmd.OutOrStdout(), []string{"Run", "Mode", "Status", "Findings", "Files", "Duration", "Branch", "Started"})
		var data [][]string
		for _, r := range runs {
			status := r.Status
			if r.GateExecutionFailed {
				status += " (exec)"
			}
			data = append(data, []string{
				r.RunID,
				r.Mode,
				status,
				strconv.Itoa(r.Findings),
				strconv.Itoa(r.ChangedFiles),
				fmt.Sprintf("%dms", r.DurationMs),
				r.Branch,
				r.StartedAt,
			})
		}
		if err := table.Bulk(data); err != nil {
			return err
		}
		return table.Render()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the gates, repair attempts and escalation of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		runID := args[0]
		run, err := h.GetRun(runID)
		if err != nil {
			return err
		}
		if run == nil {
			return usageError("run %s not found", runID)
		}
		gateRuns, err := h.GatesForRun(runID)
		if err != nil {
			return err
		}
		attempts, err := h.AttemptsForRun(runID)
		if err != nil {
			return err
		}
		escalations, err := h.EscalationsForRun(runID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(w, map[string]any{
				"run":         run,
				"gates":       gateRuns,
				"attempts":    attempts,
				"escalations": escalations,
			})
		}

		fmt.Fprintf(w, "Run:      %s\n", run.RunID)
		fmt.Fprintf(w, "Mode:     %s\n", run.Mode)
		fmt.Fprintf(w, "Status:   %s\n", run.Status)
		fmt.Fprintf(w, "Findings: %d\n", run.Findings)
		if run.Repo != "" {
			fmt.Fprintf(w, "Repo:     %s\n", run.Repo)
		}
		if run.Branch != "" {
			fmt.Fprintf(w, "Branch:   %s\n", run.Branch)
		}
		fmt.Fprintf(w, "Started:  %s\n", run.StartedAt)
		fmt.Fprintf(w, "Config:   %s\n", run.ConfigSource)

		if len(gateRuns) > 0 {
			fmt.Fprintln(w, "\nGates:")
			table := newTable(w, []string{"Phase", "Gate", "Status", "Exit", "Findings", "Duration", "Reason"})
			var data [][]string
			for _, g := range gateRuns {
				exit := ""
				if g.ExitCode != nil {
					exit = strconv.Itoa(*g.ExitCode)
				}
				data = append(data, []string{g.Phase, g.Gate, g.Status, exit, strconv.Itoa(g.Findings), fmt.Sprintf("%dms", g.DurationMs), g.Reason})
			}
			if err := table.Bulk(data); err != nil {
				return err
			}
			if err := table.Render(); err != nil {
				return err
			}
		}

		if len(attempts) > 0 {
			fmt.Fprintln(w, "\nRepair attempts:")
			table := newTable(w, []string{"Attempt", "Before", "After", "Patch lines", "Files", "Outcome", "Rolled back"})
			var data [][]string
			for _, at := range attempts {
				data = append(data, []string{
					strconv.Itoa(at.Attempt),
					strconv.Itoa(at.BeforeFindings),
					strconv.Itoa(at.AfterFindings),
					strconv.Itoa(at.PatchLines),
					strconv.Itoa(at.FilesChanged),
					at.Outcome,
					yesNo(at.RolledBack),
				})
			}
			if err := table.Bulk(data); err != nil {
				return err
			}
			if err := table.Render(); err != nil {
				return err
			}
		}

		for _, e := range escalations {
			fmt.Fprintf(w, "\nEscalated: %s\n  %s\n", e.Code, e.Rationale)
		}
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Pass rates, gate durations and escalation codes across recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := analytics.ParseSince(historySince, time.Now())
		if err != nil {
			return usageError("%v", err)
		}
		h, err := openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		report, err := analytics.Build(h, since)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(w, report)
		}
		if since != "" {
			fmt.Fprintf(w, "Since %s\n", since)
		}
		if len(report.Modes) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}

		fmt.Fprintln(w, "Runs:")
		table := newTable(w, []string{"Mode", "Runs", "Pass %", "Avg findings", "p50", "p95"})
		var data [][]string
		for _, m := range report.Modes {
			data = append(data, []string{
				m.Mode,
				strconv.Itoa(m.Runs),
				fmt.Sprintf("%.1f", m.PassPct),
				fmt.Sprintf("%.1f", m.AvgFindings),
				fmt.Sprintf("%.0fms", m.P50DurationMs),
				fmt.Sprintf("%.0fms", m.P95DurationMs),
			})
		}
		if err := table.Bulk(data); err != nil {
			return err
		}
		if err := table.Render(); err != nil {
			return err
		}

		if len(report.Gates) > 0 {
			fmt.Fprintln(w, "\nGates:")
			table = newTable(w, []string{"Gate", "Executed", "Fail %", "Error %", "Avg", "p95", "Timed out", "Unscoped", "Repair re-runs"})
			data = nil
			for _, g := range report.Gates {
				data = append(data, []string{
					g.Gate,
					strconv.Itoa(g.Executed),
					fmt.Sprintf("%.1f", g.FailPct),
					fmt.Sprintf("%.1f", g.ErrorPct),
					fmt.Sprintf("%.0fms", g.AvgMs),
					fmt.Sprintf("%.0fms", g.P95Ms),
					strconv.Itoa(g.TimedOut),
					strconv.Itoa(g.Unscoped),
					strconv.Itoa(g.RepairRun),
				})
			}
			if err := table.Bulk(data); err != nil {
				return err
			}
			if err := table.Render(); err != nil {
				return err
			}
		}

		r := report.Repair
		fmt.Fprintf(w, "\nRepair: %d runs, %d passed (%.1f%%), %d escalated, %.1f attempts on average, %.1f%% of attempts rolled back\n",
			r.Runs, r.Passed, r.PassPct, r.Escalated, r.AvgAttempts, r.RolledBackPct)
		for _, e := range report.Escalations {
			fmt.Fprintf(w, "  %-34s %d (%.1f%%)\n", e.Code, e.Count, e.Pct)
		}
		return nil
	},
}

var historyServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only web view of the run history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "qgate history: http://%s\n", historyAddr)
		return web.NewServer(h, historyAddr, logger.Named("web")).Start(cmd.Context())
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all recorded history (destructive)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !historyYes {
			return usageError("history reset deletes every recorded run; pass --yes to confirm")
		}
		h, err := openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History reset.")
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	historyResetCmd.Flags().BoolVar(&historyYes, "yes", false, "confirm the reset")
	historyStatsCmd.Flags().StringVar(&historySince, "since", "", "only runs started after this: a duration (36h, 7d), a date or an RFC3339 time")
	historyCmd.AddCommand(historyShowCmd)
	historyServeCmd.Flags().StringVar(&historyAddr, "addr", "127.0.0.1:8420", "listen address")
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyServeCmd)
	historyCmd.AddCommand(historyResetCmd)
}
