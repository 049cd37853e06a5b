package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bc-pathway-engine/internal/database"
	"github.com/bc-pathway-engine/internal/logging"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:       "migrate up|down|version",
		Short:     "Apply or roll back the PostgreSQL results schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			logger, err := logging.FromConfig(cfg.Logging)
			if err != nil {
				return err
			}

			url := database.ConfigFrom(cfg.Database).URL()
			var runner *database.MigrationRunner
			if source != "" {
				runner, err = database.NewMigrationRunnerFromPath(url, source, logger)
			} else {
				runner, err = database.NewMigrationRunner(url, logger)
			}
			if err != nil {
				return err
			}
			defer runner.Close()

			switch args[0] {
			case "up":
				return runner.Up(cmd.Context())
			case "down":
				return runner.Down(cmd.Context())
			default:
				version, dirty, err := runner.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "migrations source URL such as file://migrations (default: embedded)")
	return cmd
}
