package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/qualitygate/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect the qgate configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%s).\n", cfg.Source)
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Validation errors in %s:\n", cfg.Source)
		for _, e := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", e)
		}
		return usageError("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}

		var text string
		switch configFormat {
		case "toml":
			text, err = config.Encode(cfg)
		case "yaml":
			var data []byte
			data, err = yaml.Marshal(cfg)
			text = string(data)
		default:
			return usageError("unknown --format %q (want toml or yaml)", configFormat)
		}
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", cfg.Source)
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "output format: toml or yaml")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
