package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

var (
	checkScope  scopeFlags
	checkRepair bool
	checkOpts   repairFlags
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the gates and, with --repair, repair when they fail",
	Long: `Run the gates like "qgate run". With --repair a failing run goes straight
into the repair loop using the in-memory result, so command traces are
available to the escalation evidence.

Exits 0 on pass, 1 on a failing run without --repair, 2 when the repair loop
escalates.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		mode, changed, err := checkScope.resolve(a.root)
		if err != nil {
			return err
		}
		gr, err := runGates(cmd.Context(), a, mode, changed)
		if err != nil {
			return err
		}
		failing := gr.result.Status() != evidence.StatusPass
		// With --json a repaired check prints only the repair outcome.
		if !(flagJSON && checkRepair && failing) {
			if err := printRun(cmd.OutOrStdout(), a, gr); err != nil {
				return err
			}
		}
		if !failing {
			return nil
		}
		if !checkRepair {
			return &ExitError{Code: ExitFail}
		}

		if !flagJSON {
			fmt.Fprintln(cmd.OutOrStdout(), "repairing...")
		}
		out, err := runRepair(cmd.Context(), cmd, a, gr.failures, gr.result, checkOpts)
		if err != nil {
			return err
		}
		if err := printRepair(cmd.OutOrStdout(), a, out); err != nil {
			return err
		}
		return repairExit(out)
	},
}

func init() {
	checkScope.register(checkCmd)
	checkCmd.Flags().BoolVar(&checkRepair, "repair", false, "run the repair loop when the gates fail")
	checkOpts.register(checkCmd)
}
