package cmd

import (
	"fmt"

	"datastack/internal/app"
	"datastack/internal/cli"

	"github.com/spf13/cobra"
)

// newUpCmd creates the command that converges the platform towards the
// declared configuration.
func newUpCmd() *cobra.Command {
	var (
		dryRun bool
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the platform and converge it to the declared state",
		Long: `Read the platform configuration, compare it with the containers
currently known to the engine, and start, recreate, or stop services
until both match. Services start in dependency order and are health
checked before their dependents are released.

Examples:
  datastack up
  datastack up --dry-run
  datastack up --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.Options{
				ConfigPath: configPath,
				Debug:      debugMode,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			if dryRun {
				plan, err := application.Plan(ctx)
				if err != nil {
					return err
				}
				cli.RenderPlan(cmd.OutOrStdout(), plan)
				return nil
			}

			if watch {
				return application.Watch(ctx)
			}

			summary, err := application.Up(ctx)
			if err != nil {
				return err
			}
			cli.RenderSummary(cmd.OutOrStdout(), summary)
			if !summary.Succeeded() {
				return fmt.Errorf("deployment finished with failures")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without applying it")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-converge on configuration changes")

	return cmd
}
