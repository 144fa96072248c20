package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"backup-sentinel/internal/database"
	"backup-sentinel/internal/store"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the history and catalog schema to the configured database",
	Long: `Create or upgrade the backup_history and sensitive_data_catalog tables in
the database described by the database section of the configuration.

Examples:
  backup-sentinel migrate
  backup-sentinel migrate --status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		svc := database.NewService(logger)
		db, err := svc.Connect(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer svc.Close(db)

		if !migrateStatus {
			if err := store.RunMigrations(db); err != nil {
				return err
			}
		}
		version, err := store.MigrationVersion(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "only print the applied schema version")
	rootCmd.AddCommand(migrateCmd)
}
