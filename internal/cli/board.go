// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/noldarim/codeforge/internal/orchestrator"
	"github.com/noldarim/codeforge/internal/orchestrator/services"
	"github.com/noldarim/codeforge/internal/tui/screens/tasklist"
)

func newBoardCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "board",
		Short: "Pick a task interactively and run it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ds, err := services.NewDataService(cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			tasks, err := ds.ListTasks(ctx)
			cancel()
			ds.Close()
			if err != nil {
				return err
			}

			final, err := tea.NewProgram(tasklist.New(tasks), tea.WithAltScreen()).Run()
			if err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			m, ok := final.(tasklist.Model)
			if !ok || m.Selected() == nil {
				return nil
			}
			task := m.Selected()

			if !task.Status.CanStart() {
				printTask(cmd.OutOrStdout(), task)
				return nil
			}

			if opts.provider != "" {
				cfg.LLM.Provider = opts.provider
			}
			apiKey := resolveAPIKey(opts.apiKey, cfg.LLM.Provider)
			if apiKey == "" {
				return errors.New("missing API key: pass --api-key or set ANTHROPIC_API_KEY")
			}
			return followRun(cmd, cfg, task.ID, opts.noTUI, func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
				return o.Start(ctx, task.ID, apiKey)
			})
		},
	}
	addRunFlags(cmd, &opts)
	return cmd
}
