// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/orchestrator/services"
	"github.com/noldarim/codeforge/internal/tui/screens/taskform"
)

const queryTimeout = 10 * time.Second

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCmd(), newTaskListCmd(), newTaskShowCmd())
	return cmd
}

// openData loads config and opens the task store.
func openData(cmd *cobra.Command) (*services.DataService, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	ds, err := services.NewDataService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return ds, nil
}

func newTaskCreateCmd() *cobra.Command {
	var in services.NewTask
	var category string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (opens a form when --title is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Category = models.TaskCategory(category)
			if in.Title == "" {
				filled, ok, err := runTaskForm(cmd, in)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "Cancelled")
					return nil
				}
				in = filled
			}

			ds, err := openData(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			task, err := ds.CreateTask(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s)\n", task.ID, task.Category)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Task title")
	cmd.Flags().StringVar(&in.Description, "description", "", "Task description")
	cmd.Flags().StringVar(&category, "category", string(models.CategoryFeature), "Task category: "+categoryNames())
	return cmd
}

func runTaskForm(cmd *cobra.Command, initial services.NewTask) (services.NewTask, bool, error) {
	p := tea.NewProgram(taskform.New(initial), tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.ErrOrStderr()))
	final, err := p.Run()
	if err != nil {
		return services.NewTask{}, false, fmt.Errorf("form error: %w", err)
	}
	m, ok := final.(taskform.Model)
	if !ok || !m.Submitted() {
		return services.NewTask{}, false, nil
	}
	return m.Task(), true, nil
}

func categoryNames() string {
	return strings.Join(lo.Map(models.TaskCategories, func(c models.TaskCategory, _ int) string { return string(c) }), ", ")
}

func newTaskListCmd() *cobra.Command {
	var statuses []string
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := openData(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			filter := lo.Map(statuses, func(s string, _ int) models.TaskStatus { return models.TaskStatus(s) })
			tasks, err := ds.ListTasks(ctx, filter...)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if format == "json" {
				return writeJSON(w, tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(w, "No tasks found.")
				return nil
			}
			fmt.Fprintf(w, "%-36s %-9s %-12s %s\n", "ID", "STATUS", "CATEGORY", "TITLE")
			fmt.Fprintf(w, "%-36s %-9s %-12s %s\n",
				strings.Repeat("-", 36), strings.Repeat("-", 9), strings.Repeat("-", 12), strings.Repeat("-", 5))
			for _, t := range tasks {
				fmt.Fprintf(w, "%-36s %-9s %-12s %s\n", t.ID, t.Status, t.Category, truncate(t.Title, 50))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show tasks in these statuses (backlog, spec, building, review, done)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := openData(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			task, err := ds.GetTask(ctx, args[0])
			if services.IsNotFound(err) {
				return fmt.Errorf("task not found: %s", args[0])
			}
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
}

func printTask(w io.Writer, t *models.Task) {
	fmt.Fprintf(w, "Task:     %s\n", t.ID)
	fmt.Fprintf(w, "Title:    %s\n", t.Title)
	fmt.Fprintf(w, "Category: %s\n", t.Category)
	fmt.Fprintf(w, "Status:   %s\n", t.Status)
	fmt.Fprintf(w, "Created:  %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(t.Description))
	if len(t.Subtasks) > 0 {
		fmt.Fprintf(w, "\nSubtasks:\n")
		for _, s := range t.Subtasks {
			fmt.Fprintf(w, "  %d. %s\n", s.Order, s.Title)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) > n {
		return string([]rune(s)[:n-3]) + "..."
	}
	return s
}

