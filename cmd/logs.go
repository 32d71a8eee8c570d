package cmd

import (
	"datastack/internal/app"

	"github.com/spf13/cobra"
)

// newLogsCmd creates the command that streams container logs.
func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Show logs for a service",
		Long: `Print the container logs of a single service. With --follow the
stream stays open until interrupted.

Examples:
  datastack logs db
  datastack logs scheduler --follow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.Options{
				ConfigPath: configPath,
				Debug:      debugMode,
				Silent:     !debugMode,
			})
			if err != nil {
				return err
			}

			return application.Logs(cmd.Context(), args[0], follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new log output")

	return cmd
}
