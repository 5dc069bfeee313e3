package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying defaults, config file, environment
and flags. Secrets are masked. Exits non-zero when the configuration is invalid.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := cfg.Redacted().YAML()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	out := cmd.OutOrStdout()
	if file := loader.ConfigFile(); file != "" {
		fmt.Fprintf(out, "# source: %s\n", file)
	} else {
		fmt.Fprintln(out, "# source: defaults and environment")
	}
	_, err = out.Write(data)
	return err
}
