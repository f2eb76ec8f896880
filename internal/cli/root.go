// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the codeforge operator command line.
package cli

import (
	"fmt"
	"sync"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const appName = "codeforge"

var version = "0.1.0-dev"

// SetVersion sets the version reported by "codeforge version".
func SetVersion(v string) {
	version = v
}

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetCLILogger()
		log = &l
	})
	return log
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: appName + " - plan, code and review tasks with LLM agents",
		Long: `codeforge drives a task through three agents: a planner splits it into
subtasks, a coder proposes file changes and a reviewer scores them. Low
scores send the changes back to the coder until the review passes or the
iteration cap is reached.

State lives in the configured database. Run "codeforge migrate" once before
first use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file (default: ./config.yaml, ~/.codeforge/config.yaml)")

	root.AddCommand(
		newVersionCmd(),
		newMigrateCmd(),
		newRecoverCmd(),
		newTaskCmd(),
		newBoardCmd(),
		newRunCmd(),
		newStatusCmd(),
		newApproveCmd(),
		newCancelCmd(),
		newRetryCmd(),
		newRequestChangesCmd(),
		newWatchCmd(),
	)
	return root
}

// Execute runs the CLI application
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
		},
	}
}

// loadConfig reads the config named by --config and starts logging.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
