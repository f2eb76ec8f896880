// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/agents"
	"github.com/noldarim/codeforge/internal/orchestrator/database"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errStopped ends a run's execution without touching its persisted state.
// The run was cancelled, superseded or paused by the time it was returned.
var errStopped = errors.New("run execution stopped")

// runState is the in-memory view of one execution. Only the execution
// goroutine touches it.
type runState struct {
	runID      string
	taskID     string
	apiKey     string
	brief      agents.TaskBrief
	logs       models.AgentLogs
	iteration  int
	retryCount int
	subtasks   models.Subtasks
	files      models.FileChanges
	review     models.ReviewResult
	span       trace.Span
}

// launch registers the run's cancel handle and starts its execution after
// delay. The caller must have reserved a wait group slot with begin.
func (o *Orchestrator) launch(run *models.PipelineRun, apiKey string, delay time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancels.Register(run.ID, cancel)

	if delay <= 0 {
		go o.execute(ctx, cancel, run.ID, run.TaskID, apiKey)
		return
	}

	err := o.scheduler.Schedule(run.ID, delay,
		func() { go o.execute(ctx, cancel, run.ID, run.TaskID, apiKey) },
		func() {
			o.cancels.Remove(run.ID)
			cancel()
			o.wg.Done()
		})
	if err != nil {
		// Stopped scheduler means Close is running; the run stays running
		// in the store and is paused by Recover on the next start.
		getLog().Warn().Err(err).Str("run_id", run.ID).Msg("Delayed start refused")
		o.cancels.Remove(run.ID)
		cancel()
		o.wg.Done()
	}
}

func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, runID, taskID, apiKey string) {
	defer o.wg.Done()
	defer cancel()
	defer o.cancels.Remove(runID)

	runsActive.Inc()
	defer runsActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			getLog().Error().Str("run_id", runID).Interface("panic", r).Msg("Pipeline run panicked")
			o.failRun(runID, taskID, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	if ctx.Err() != nil {
		return
	}

	st, err := o.loadState(ctx, runID, taskID, apiKey)
	if err != nil {
		if !o.stopped(ctx, err) {
			o.failRun(runID, taskID, err)
		}
		return
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("run.id", runID),
		attribute.Int("run.retry_count", st.retryCount),
	))
	defer span.End()
	st.span = span

	err = o.runPipeline(ctx, st)
	switch {
	case err == nil:
	case o.stopped(ctx, err):
		getLog().Debug().Err(err).Str("run_id", runID).Msg("Pipeline execution stopped")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.failRun(runID, taskID, err)
	}
}

// stopped reports whether err only means the run no longer belongs to this
// execution.
func (o *Orchestrator) stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, errStopped) ||
		errors.Is(err, database.ErrStaleRun) ||
		errors.Is(err, agents.ErrCancelled)
}

func (o *Orchestrator) loadState(ctx context.Context, runID, taskID, apiKey string) (*runState, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status != models.RunStatusRunning {
		return nil, errStopped
	}
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return &runState{
		runID:  runID,
		taskID: taskID,
		apiKey: apiKey,
		brief: agents.TaskBrief{
			Title:       task.Title,
			Description: task.Description,
			Category:    task.Category,
		},
		logs:       run.AgentLogs,
		iteration:  run.Iteration,
		retryCount: run.RetryCount,
	}, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, st *runState) error {
	if err := o.transition(ctx, st, models.PhasePlanning, nil); err != nil {
		return err
	}
	plan, err := o.agents.Plan(ctx, st.apiKey, agents.PlanInput{Task: st.brief}, o.sink(st, models.RolePlanner))
	if err != nil {
		return o.pause(ctx, st, models.RolePlanner, models.PhasePlanning, err)
	}
	st.subtasks = plan.Subtasks
	if err := o.store.SetTaskSubtasks(ctx, st.taskID, st.subtasks); err != nil {
		return fmt.Errorf("failed to save subtasks: %w", err)
	}
	if err := o.saveOutputs(ctx, st, database.RunPatch{}); err != nil {
		return err
	}

	building := models.TaskStatusBuilding
	if err := o.transition(ctx, st, models.PhaseCoding, &building); err != nil {
		return err
	}
	code, err := o.agents.Code(ctx, st.apiKey, agents.CodeInput{Task: st.brief, Subtasks: st.subtasks}, o.sink(st, models.RoleCoder))
	if err != nil {
		return o.pause(ctx, st, models.RoleCoder, models.PhaseCoding, err)
	}
	st.files = code.Files
	if err := o.saveOutputs(ctx, st, database.RunPatch{FileChanges: st.files}); err != nil {
		return err
	}

	for {
		if err := o.transition(ctx, st, models.PhaseReviewing, nil); err != nil {
			return err
		}
		review, err := o.agents.Review(ctx, st.apiKey, agents.ReviewInput{
			Task:          st.brief,
			Subtasks:      st.subtasks,
			Files:         st.files,
			PassThreshold: o.config.PassThreshold,
		}, o.sink(st, models.RoleReviewer))
		if err != nil {
			return o.pause(ctx, st, models.RoleReviewer, models.PhaseReviewing, err)
		}
		st.review = review
		if err := o.saveOutputs(ctx, st, database.RunPatch{ReviewFindings: &review}); err != nil {
			return err
		}

		if review.Passed {
			return o.finish(ctx, st, true)
		}
		if st.iteration >= o.config.MaxIterations-1 {
			return o.finish(ctx, st, false)
		}

		st.iteration++
		if err := o.transition(ctx, st, models.PhaseFixing, nil); err != nil {
			return err
		}
		fixes := o.config.MaxIterations - 1
		notice := fmt.Sprintf("\n\nReview failed (score: %d/100), auto-fixing (attempt %d/%d)\n", review.Score, st.iteration, fixes)
		o.sink(st, models.RoleCoder).WriteChunk(notice)

		fix, err := o.agents.Fix(ctx, st.apiKey, agents.FixInput{
			Task:        st.brief,
			Subtasks:    st.subtasks,
			Files:       st.files,
			Review:      review,
			Attempt:     st.iteration,
			MaxAttempts: fixes,
		}, o.sink(st, models.RoleCoder))
		if err != nil {
			return o.pause(ctx, st, models.RoleCoder, models.PhaseFixing, err)
		}
		st.files = fix.Files
		if err := o.saveOutputs(ctx, st, database.RunPatch{FileChanges: st.files}); err != nil {
			return err
		}
	}
}

// transition persists the phase, then announces it. A non-nil taskStatus moves
// the task in the same transaction.
func (o *Orchestrator) transition(ctx context.Context, st *runState, phase models.Phase, taskStatus *models.TaskStatus) error {
	if ctx.Err() != nil {
		return errStopped
	}
	running := models.RunStatusRunning
	patch := database.RunPatch{Phase: &phase, Status: &running, Iteration: &st.iteration}

	var err error
	if taskStatus != nil {
		err = o.store.UpdateRunAndTask(ctx, st.runID, patch, *taskStatus, models.RunStatusRunning)
	} else {
		err = o.store.UpdateRun(ctx, st.runID, patch, models.RunStatusRunning)
	}
	if err != nil {
		return fmt.Errorf("failed to persist %s transition: %w", phase, err)
	}

	o.events.Push(st.taskID, protocol.PhaseChangeEvent{Phase: phase, Status: running, Iteration: st.iteration, Timestamp: protocol.Now()})
	if taskStatus != nil {
		o.events.Push(st.taskID, protocol.TaskStatusEvent{TaskID: st.taskID, NewStatus: *taskStatus, Timestamp: protocol.Now()})
	}
	phaseTransitions.WithLabelValues(string(phase)).Inc()
	st.span.AddEvent("phase", trace.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.Int("iteration", st.iteration),
	))

	getLog().Debug().Str("run_id", st.runID).Str("phase", string(phase)).Int("iteration", st.iteration).Msg("Phase transition")
	return nil
}

// saveOutputs persists the agent logs together with whatever phase output
// patch carries.
func (o *Orchestrator) saveOutputs(ctx context.Context, st *runState, patch database.RunPatch) error {
	logs := st.logs
	patch.AgentLogs = &logs
	if err := o.store.UpdateRun(ctx, st.runID, patch, models.RunStatusRunning); err != nil {
		return fmt.Errorf("failed to save run outputs: %w", err)
	}
	return nil
}

func (o *Orchestrator) sink(st *runState, role models.AgentRole) agents.ChunkSink {
	return agents.ChunkSinkFunc(func(chunk string) {
		st.logs.Append(role, chunk)
		o.events.Push(st.taskID, protocol.AgentLogEvent{Agent: role, Chunk: chunk, Timestamp: protocol.Now()})
	})
}

// pause records a recoverable agent failure. The run waits for an operator
// retry or cancel.
func (o *Orchestrator) pause(ctx context.Context, st *runState, role models.AgentRole, phase models.Phase, cause error) error {
	if o.stopped(ctx, cause) {
		return cause
	}

	details := classifyFailure(cause)
	details.FailedAgent = role
	details.FailedPhase = phase
	details.RetryCount = st.retryCount
	details.MaxRetries = o.config.MaxRetries
	details.Timestamp = protocol.Now()

	paused := models.RunStatusPaused
	logs := st.logs
	err := o.store.UpdateRun(ctx, st.runID, database.RunPatch{
		Status:       &paused,
		ErrorDetails: &details,
		AgentLogs:    &logs,
	}, models.RunStatusRunning)
	if errors.Is(err, database.ErrStaleRun) {
		return errStopped
	}
	if err != nil {
		getLog().Error().Err(err).Str("run_id", st.runID).Msg("Failed to persist paused run")
	}

	o.events.Push(st.taskID, protocol.PhaseChangeEvent{Phase: phase, Status: paused, Iteration: st.iteration, Timestamp: protocol.Now()})
	o.events.Push(st.taskID, protocol.NewErrorEvent(details))
	runPauses.WithLabelValues(string(details.Type)).Inc()
	st.span.AddEvent("paused", trace.WithAttributes(
		attribute.String("error.type", string(details.Type)),
		attribute.String("agent", string(role)),
	))

	getLog().Warn().
		Err(cause).
		Str("task_id", st.taskID).
		Str("run_id", st.runID).
		Str("agent", string(role)).
		Str("error_type", string(details.Type)).
		Msg("Pipeline run paused")
	return errStopped
}

// finish ends the run with the review verdict.
func (o *Orchestrator) finish(ctx context.Context, st *runState, passed bool) error {
	phase, status, taskStatus, result := models.PhaseCompleted, models.RunStatusPassed, models.TaskStatusReview, protocol.ResultPassed
	if !passed {
		phase, status, taskStatus, result = models.PhaseFailed, models.RunStatusFailed, models.TaskStatusBacklog, protocol.ResultFailed
	}
	now := time.Now()
	err := o.store.UpdateRunAndTask(ctx, st.runID, database.RunPatch{
		Phase:       &phase,
		Status:      &status,
		Iteration:   &st.iteration,
		CompletedAt: &now,
	}, taskStatus, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to persist run verdict: %w", err)
	}

	review := st.review
	complete := protocol.PipelineCompleteEvent{TaskID: st.taskID, Result: result, ReviewFindings: &review, Timestamp: protocol.Now()}
	if passed {
		complete.FileChanges = st.files
	}
	o.events.Push(st.taskID, protocol.PhaseChangeEvent{Phase: phase, Status: status, Iteration: st.iteration, Timestamp: protocol.Now()})
	o.events.Push(st.taskID, protocol.TaskStatusEvent{TaskID: st.taskID, NewStatus: taskStatus, Timestamp: protocol.Now()})
	o.events.Push(st.taskID, complete)
	runsFinished.WithLabelValues(string(status)).Inc()

	getLog().Info().
		Str("task_id", st.taskID).
		Str("run_id", st.runID).
		Str("result", result).
		Int("iteration", st.iteration).
		Int("score", st.review.Score).
		Msg("Pipeline run finished")
	return nil
}

// failRun marks a run failed after an error escaped phase handling. It runs
// detached from the execution context and never reports its own failures.
func (o *Orchestrator) failRun(runID, taskID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	phase, status, now := models.PhaseFailed, models.RunStatusFailed, time.Now()
	details := models.ErrorDetails{
		Type:       models.ErrorTypeUnknown,
		Message:    cause.Error(),
		MaxRetries: o.config.MaxRetries,
		Timestamp:  protocol.Now(),
	}
	err := o.store.UpdateRunAndTask(ctx, runID, database.RunPatch{
		Phase:        &phase,
		Status:       &status,
		ErrorDetails: &details,
		CompletedAt:  &now,
	}, models.TaskStatusBacklog, models.RunStatusRunning)
	if errors.Is(err, database.ErrStaleRun) {
		return
	}
	if err != nil {
		getLog().Error().Err(err).Str("run_id", runID).Msg("Failed to mark run failed")
	}

	o.events.Push(taskID, protocol.PhaseChangeEvent{Phase: phase, Status: status, Timestamp: protocol.Now()})
	o.events.Push(taskID, protocol.TaskStatusEvent{TaskID: taskID, NewStatus: models.TaskStatusBacklog, Timestamp: protocol.Now()})
	o.events.Push(taskID, protocol.PipelineCompleteEvent{TaskID: taskID, Result: protocol.ResultFailed, Timestamp: protocol.Now()})
	runsFinished.WithLabelValues("error").Inc()

	getLog().Error().Err(cause).Str("task_id", taskID).Str("run_id", runID).Msg("Pipeline run failed")
}
