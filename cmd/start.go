package cmd

import (
	"fmt"

	"datastack/internal/app"
	"datastack/internal/cli"

	"github.com/spf13/cobra"
)

// newStartCmd creates the command that starts individual services.
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <service> [service...]",
		Short: "Start specific services and their dependencies",
		Long: `Start the named services. Dependencies that are not already healthy
are started first, in dependency order.

Examples:
  datastack start notebook
  datastack start scheduler dashboard`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.Options{
				ConfigPath: configPath,
				Debug:      debugMode,
			})
			if err != nil {
				return err
			}

			summary, err := application.StartServices(cmd.Context(), args)
			if err != nil {
				return err
			}
			cli.RenderSummary(cmd.OutOrStdout(), summary)
			if !summary.Succeeded() {
				return fmt.Errorf("start finished with failures")
			}
			return nil
		},
	}
}
