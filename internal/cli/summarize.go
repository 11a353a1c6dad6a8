package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/qualitygate/internal/artifacts"
	"github.com/lucasnoah/qualitygate/internal/brief"
)

var summarizeInput string

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Write the agent brief for a failures payload",
	Long: `Turn a failures payload into .qgate/agent-brief.json and
.qgate/agent-brief.md: one priority action per finding, the retry policy the
repair loop enforces and whether escalation is expected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}
		store := artifacts.NewStore(root)
		if err := store.Ensure(); err != nil {
			return err
		}
		f, err := store.ReadFailures(summarizeInput)
		if err != nil {
			return usageError("%v", err)
		}

		b := brief.Build(f, cfg.RetryPolicy())
		md := b.Markdown()
		if err := store.WriteBrief(b, md); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), b)
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeInput, "input", "", "failures payload (default .qgate/failures.json)")
}
