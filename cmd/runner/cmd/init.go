package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration to .runner/config.yaml, or to the
path given with --config. Secrets are left out; set them through
RUNNER_REMOTE_TOKEN, RUNNER_WEBHOOK_GITHUB_SECRET and RUNNER_WEBHOOK_GITLAB_TOKEN.`,
	RunE: runInit,
}

var (
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = config.ProjectConfigPath()
	}

	if err := config.WriteDefault(path, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration file:", path)
	fmt.Fprintln(out, "Run 'runner serve' to start the service")
	return nil
}
