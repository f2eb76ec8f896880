// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/noldarim/codeforge/internal/app"
	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/orchestrator"
	"github.com/noldarim/codeforge/internal/orchestrator/events"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/protocol"
	"github.com/noldarim/codeforge/internal/telemetry"
	"github.com/noldarim/codeforge/internal/tui/components/pipelineview"
)

// subscriberBuffer holds a full run's worth of chunks for a slow terminal.
const subscriberBuffer = 4096

var errPipelineNotPassed = errors.New("pipeline did not pass")

type runOptions struct {
	provider string
	apiKey   string
	noTUI    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run the plan, code and review pipeline for a task",
		Long: `Run starts a pipeline run for a task in backlog or spec and follows it
until it passes, fails, pauses or is cancelled. Ctrl+C cancels the run.

The API key is read from --api-key or ANTHROPIC_API_KEY. The demo provider
needs no key.`,
		Args: cobra.ExactArgs(1),
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
				return o.Start(ctx, args[0], apiKey)
			})
		},
	}
	addRunFlags(cmd, &opts)
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVar(&opts.provider, "provider", "", "LLM provider: anthropic or demo (default from config)")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Anthropic API key (default $ANTHROPIC_API_KEY)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Print agent output as plain text")
}

func resolveAPIKey(flag, provider string) string {
	if flag != "" {
		return flag
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key
	}
	if provider == "demo" {
		return "demo"
	}
	return ""
}

// launchFunc starts a run on the orchestrator and returns its ID.
type launchFunc func(ctx context.Context, o *orchestrator.Orchestrator) (string, error)

// followRun wires the stack, launches a run and follows it to the end.
func followRun(cmd *cobra.Command, cfg *config.AppConfig, taskID string, noTUI bool, launch launchFunc) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tp, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	tp.Install()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			getLog().Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Subscribe before starting so the first phase change is not missed.
	sink := events.NewChannelSink(subscriberBuffer)
	a.Bus.Register(taskID, sink)
	defer a.Bus.Unregister(taskID, sink)

	runID, err := launch(ctx, a.Orchestrator)
	if err != nil {
		return err
	}
	getLog().Info().Str("task_id", taskID).Str("run_id", runID).Msg("Following pipeline run")

	view := pipelineview.New(100, 30, runID, cfg.Pipeline.MaxIterations, sink.Events())
	out := cmd.OutOrStdout()

	if noTUI {
		view = followPlain(ctx, a, taskID, runID, view, sink.Events(), out)
	} else {
		view, err = followTUI(a, taskID, runID, view)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, view.Feed().Render())
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, view.Summary().View())

	switch view.RunStatus() {
	case models.RunStatusPassed:
		fmt.Fprintf(out, "\nReview passed. Accept the changes with: %s approve %s\n", appName, taskID)
		return nil
	case models.RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("%w: run %s is %s", errPipelineNotPassed, runID, view.RunStatus())
	}
}

// followTUI runs the interactive view. Ctrl+C cancels through the orchestrator
// and the program is told once the cancellation is stored.
func followTUI(a *app.App, taskID, runID string, view pipelineview.Model) (pipelineview.Model, error) {
	var p *tea.Program
	view = view.SetCancelRequest(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := a.Orchestrator.Cancel(ctx, taskID, runID)
			p.Send(pipelineview.CancelConfirmedMsg{Err: err})
		}()
	})

	p = tea.NewProgram(view, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return view, fmt.Errorf("TUI error: %w", err)
	}
	m, ok := final.(pipelineview.Model)
	if !ok {
		return view, fmt.Errorf("unexpected TUI model %T", final)
	}
	return m, nil
}

// followPlain prints agent chunks as they arrive. An interrupt cancels the run
// and keeps reading until the cancellation is observed.
func followPlain(ctx context.Context, a *app.App, taskID, runID string, view pipelineview.Model, ch <-chan protocol.Event, out io.Writer) pipelineview.Model {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	interrupted := sigCtx.Done()
	var lastAgent models.AgentRole

	for view.State() != pipelineview.StateDone {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "\nCancelling...")
			cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := a.Orchestrator.Cancel(cancelCtx, taskID, runID)
			cancel()
			next, _ := view.Update(pipelineview.CancelConfirmedMsg{Err: err})
			view = next.(pipelineview.Model)

		case e, ok := <-ch:
			if !ok {
				next, _ := view.Update(pipelineview.StreamClosedMsg{})
				return next.(pipelineview.Model)
			}
			printPlain(out, e, &lastAgent)
			next, _ := view.Update(pipelineview.EventMsg{Event: e})
			view = next.(pipelineview.Model)
		}
	}
	return view
}

func printPlain(out io.Writer, e protocol.Event, lastAgent *models.AgentRole) {
	switch ev := e.(type) {
	case protocol.PhaseChangeEvent:
		fmt.Fprintf(out, "\n== %s (iteration %d, %s)\n", ev.Phase, ev.Iteration, ev.Status)
		*lastAgent = ""
	case protocol.AgentLogEvent:
		if ev.Agent != *lastAgent {
			fmt.Fprintf(out, "\n[%s]\n", ev.Agent)
			*lastAgent = ev.Agent
		}
		fmt.Fprint(out, ev.Chunk)
	case protocol.ErrorEvent:
		fmt.Fprintf(out, "\nerror (%s): %s\n", ev.Type, ev.Message)
	case protocol.TaskStatusEvent:
		fmt.Fprintf(out, "\ntask is now %s\n", ev.NewStatus)
	}
}
