package main

import (
	"fmt"

	"github.com/kiranshivaraju/stylizer/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required to migrate")
		}
		logger := setupLogger(cfg.Server.LogLevel, debug)

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
