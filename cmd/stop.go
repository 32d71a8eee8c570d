package cmd

import (
	"fmt"

	"datastack/internal/app"
	"datastack/internal/cli"

	"github.com/spf13/cobra"
)

// newStopCmd creates the command that stops individual services.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <service> [service...]",
		Short: "Stop specific services",
		Long: `Stop the named services. Dependents keep running; use down to stop
the whole platform.

Examples:
  datastack stop notebook
  datastack stop scheduler dashboard`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.Options{
				ConfigPath: configPath,
				Debug:      debugMode,
			})
			if err != nil {
				return err
			}

			summary, err := application.StopServicesByName(cmd.Context(), args)
			if err != nil {
				return err
			}
			cli.RenderSummary(cmd.OutOrStdout(), summary)
			if !summary.Succeeded() {
				return fmt.Errorf("stop finished with failures")
			}
			return nil
		},
	}
}
