// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/noldarim/codeforge/internal/app"
	"github.com/noldarim/codeforge/internal/orchestrator"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/tui/components/pipelinesummary"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// openApp loads config and wires the stack for a one-shot command.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func newStatusCmd() *cobra.Command {
	var format string
	var history bool

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the latest pipeline run of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			w := cmd.OutOrStdout()
			if history {
				runs, err := a.Orchestrator.Runs(ctx, args[0])
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(w, runs)
				}
				printRuns(w, runs)
				return nil
			}

			summary, err := a.Orchestrator.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(w, summary)
			}
			if summary == nil {
				fmt.Fprintln(w, "No pipeline runs for this task.")
				return nil
			}
			printSummary(w, summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&history, "history", false, "List every run, newest first")
	return cmd
}

func printSummary(w io.Writer, s *orchestrator.RunSummary) {
	fmt.Fprintln(w, layout.StatusBadge(s.Status))
	fmt.Fprintf(w, "Run:        %s\n", s.RunID)
	fmt.Fprintf(w, "Phase:      %s\n", s.Phase)
	fmt.Fprintf(w, "Iteration:  %d\n", s.Iteration)
	fmt.Fprintf(w, "Retries:    %d\n", s.RetryCount)
	if s.ReviewScore != nil {
		fmt.Fprintf(w, "Score:      %d/100\n", *s.ReviewScore)
	}
	end := time.Now()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	fmt.Fprintf(w, "Duration:   %s\n", pipelinesummary.FormatDuration(end.Sub(s.StartedAt)))
	for _, role := range models.AgentRoles {
		fmt.Fprintf(w, "%-11s %d chunks\n", string(role)+":", s.LogCounts[role])
	}
	if s.ErrorDetails != nil {
		fmt.Fprintf(w, "Error:      %s: %s\n", s.ErrorDetails.Type, s.ErrorDetails.Message)
	}
}

func printRuns(w io.Writer, runs []*models.PipelineRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No pipeline runs for this task.")
		return
	}
	fmt.Fprintf(w, "%-36s %-10s %-10s %-5s %s\n", "RUN", "STATUS", "PHASE", "ITER", "STARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s %-10s %-10s %-5d %s\n", r.ID, r.Status, r.Phase, r.Iteration, r.StartedAt.Format(time.RFC3339))
	}
}

// latestRunID resolves the run a control command acts on.
func latestRunID(ctx context.Context, o *orchestrator.Orchestrator, taskID, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	s, err := o.Status(ctx, taskID)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", errors.New("task has no pipeline runs")
	}
	return s.RunID, nil
}

func newApproveCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Accept a passed run and mark the task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			id, err := latestRunID(ctx, a.Orchestrator, args[0], runID)
			if err != nil {
				return err
			}
			res, err := a.Orchestrator.Approve(ctx, args[0], id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s is %s\n", res.TaskID, res.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run to approve (default: latest)")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a running or paused run",
		Long: `Cancel records the cancellation in the database. A run executing in another
process notices on its next state write and stops.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			id, err := latestRunID(ctx, a.Orchestrator, args[0], runID)
			if err != nil {
				return err
			}
			res, err := a.Orchestrator.Cancel(ctx, args[0], id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s is %s\n", res.RunID, res.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run to cancel (default: latest)")
	return cmd
}

func newRetryCmd() *cobra.Command {
	var opts runOptions
	var runID string

	cmd := &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Retry a paused run and follow the new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if opts.provider != "" {
				cfg.LLM.Provider = opts.provider
			}
			apiKey := resolveAPIKey(opts.apiKey, cfg.LLM.Provider)
			if apiKey == "" {
				return errors.New("missing API key: pass --api-key or set ANTHROPIC_API_KEY")
			}
			out := cmd.OutOrStdout()
			return followRun(cmd, cfg, args[0], opts.noTUI, func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
				id, err := latestRunID(ctx, o, args[0], runID)
				if err != nil {
					return "", err
				}
				res, err := o.Retry(ctx, args[0], id, apiKey)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(out, "Retrying as run %s in %s\n", res.RunID, res.Delay)
				return res.RunID, nil
			})
		},
	}
	addRunFlags(cmd, &opts)
	cmd.Flags().StringVar(&runID, "run", "", "Paused run to retry (default: latest)")
	return cmd
}

func newRequestChangesCmd() *cobra.Command {
	var opts runOptions
	var runID, feedback string

	cmd := &cobra.Command{
		Use:   "request-changes <task-id>",
		Short: "Send a finished run back through the pipeline with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if opts.provider != "" {
				cfg.LLM.Provider = opts.provider
			}
			apiKey := resolveAPIKey(opts.apiKey, cfg.LLM.Provider)
			if apiKey == "" {
				return errors.New("missing API key: pass --api-key or set ANTHROPIC_API_KEY")
			}
			return followRun(cmd, cfg, args[0], opts.noTUI, func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
				id, err := latestRunID(ctx, o, args[0], runID)
				if err != nil {
					return "", err
				}
				return o.RequestChanges(ctx, args[0], id, feedback, apiKey)
			})
		},
	}
	addRunFlags(cmd, &opts)
	cmd.Flags().StringVar(&runID, "run", "", "Run to revise (default: latest)")
	cmd.Flags().StringVar(&feedback, "feedback", "", "What should change (at least 10 characters)")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}
