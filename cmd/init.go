package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"datastack/internal/config"

	"github.com/spf13/cobra"
)

// newInitCmd creates the command that writes a starter configuration.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default datastack.yaml",
		Long: `Create the configuration directory and write a datastack.yaml
describing the default stack. Existing configuration is left untouched
unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := configPath
			if dir == "" {
				dir = config.GetDefaultConfigPathOrPanic()
			}

			configFile := filepath.Join(dir, "datastack.yaml")
			if _, err := os.Stat(configFile); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", configFile)
			}

			if err := config.SaveConfig(config.GetDefaultConfig(), dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")

	return cmd
}
