// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/orchestrator/database"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := Migrate(&cfg.Database); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s is ready\n", describeDB(&cfg.Database))
			return nil
		},
	}
}

// Migrate applies the schema and validates the result.
func Migrate(cfg *config.DatabaseConfig) error {
	db, err := database.NewGormDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err := db.ValidateSchema(); err != nil {
		return fmt.Errorf("schema validation failed after migration: %w", err)
	}
	getLog().Info().Str("driver", cfg.Driver).Msg("Database migrated")
	return nil
}

// describeDB names the database without leaking credentials.
func describeDB(cfg *config.DatabaseConfig) string {
	if cfg.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}
	return fmt.Sprintf("%s:%s", cfg.Driver, cfg.Database)
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Pause runs left running by a crashed process",
		Long: `Recover marks every running pipeline run as paused so it can be retried or
cancelled. The server does this on startup; use this command only when no
server or other run command is using the same database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Orchestrator.Recover(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused %d interrupted run(s)\n", n)
			return nil
		},
	}
}
