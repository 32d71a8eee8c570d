package cmd

import (
	"fmt"

	"datastack/internal/app"
	"datastack/internal/cli"

	"github.com/spf13/cobra"
)

// newDownCmd creates the command that stops the whole platform.
func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop all platform services",
		Long: `Stop every running service in reverse dependency order. Containers
are stopped but not removed, so a later up resumes quickly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.Options{
				ConfigPath: configPath,
				Debug:      debugMode,
			})
			if err != nil {
				return err
			}

			summary, err := application.Down(cmd.Context())
			if err != nil {
				return err
			}
			cli.RenderSummary(cmd.OutOrStdout(), summary)
			if !summary.Succeeded() {
				return fmt.Errorf("shutdown finished with failures")
			}
			return nil
		},
	}
}
