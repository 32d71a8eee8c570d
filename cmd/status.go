package cmd

import (
	"datastack/internal/app"
	"datastack/internal/cli"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the command that reports service states.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of all platform services",
		Long: `List every declared service with its current runtime state. When the
container engine is unreachable the last persisted state is shown
instead, clearly marked as such.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.Options{
				ConfigPath: configPath,
				Debug:      debugMode,
				Silent:     !debugMode,
			})
			if err != nil {
				return err
			}

			views, live, err := application.Status(cmd.Context())
			if err != nil {
				return err
			}
			cli.RenderStatus(cmd.OutOrStdout(), views, live)
			return nil
		},
	}
}
