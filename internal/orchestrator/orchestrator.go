// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/orchestrator/agents"
	"github.com/noldarim/codeforge/internal/orchestrator/database"
	"github.com/noldarim/codeforge/internal/orchestrator/events"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/protocol"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetOrchestratorLogger()
		log = &l
	})
	return log
}

// Agents runs the three pipeline agents. *agents.Adapters implements it.
type Agents interface {
	Plan(ctx context.Context, apiKey string, in agents.PlanInput, sink agents.ChunkSink) (models.SubtaskList, error)
	Code(ctx context.Context, apiKey string, in agents.CodeInput, sink agents.ChunkSink) (models.FileChangeSet, error)
	Fix(ctx context.Context, apiKey string, in agents.FixInput, sink agents.ChunkSink) (models.FileChangeSet, error)
	Review(ctx context.Context, apiKey string, in agents.ReviewInput, sink agents.ChunkSink) (models.ReviewResult, error)
}

// Deps are the collaborators of an Orchestrator. Cancels and Scheduler are
// created when nil.
type Deps struct {
	Store     *database.GormDB
	Agents    Agents
	Events    events.Publisher
	Cancels   *CancelRegistry
	Scheduler *Scheduler
}

// Orchestrator drives pipeline runs through their phases and serves the
// control operations. Each run executes on its own goroutine.
type Orchestrator struct {
	store     *database.GormDB
	agents    Agents
	events    events.Publisher
	cancels   *CancelRegistry
	scheduler *Scheduler
	config    config.PipelineConfig
	tracer    trace.Tracer

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an orchestrator.
func New(deps Deps, cfg config.PipelineConfig) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator requires a store")
	}
	if deps.Agents == nil {
		return nil, errors.New("orchestrator requires agents")
	}
	if deps.Events == nil {
		return nil, errors.New("orchestrator requires an event publisher")
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1, got %d", cfg.MaxIterations)
	}
	if deps.Cancels == nil {
		deps.Cancels = NewCancelRegistry()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler()
	}

	return &Orchestrator{
		store:     deps.Store,
		agents:    deps.Agents,
		events:    deps.Events,
		cancels:   deps.Cancels,
		scheduler: deps.Scheduler,
		config:    cfg,
		tracer:    otel.Tracer("github.com/noldarim/codeforge/internal/orchestrator"),
	}, nil
}

// RetryResult is the outcome of Retry.
type RetryResult struct {
	RunID string
	Delay time.Duration
}

// CancelResult is the outcome of Cancel.
type CancelResult struct {
	RunID  string
	Status models.RunStatus
}

// ApproveResult is the outcome of Approve.
type ApproveResult struct {
	TaskID string
	Status models.TaskStatus
}

// RunSummary is the hydration view of a task's latest run.
type RunSummary struct {
	RunID          string                   `json:"runId"`
	Phase          models.Phase             `json:"phase"`
	Status         models.RunStatus         `json:"status"`
	Iteration      int                      `json:"iteration"`
	RetryCount     int                      `json:"retryCount"`
	LogCounts      map[models.AgentRole]int `json:"logCounts"`
	HasFileChanges bool                     `json:"hasFileChanges"`
	ReviewScore    *int                     `json:"reviewScore"`
	StartedAt      time.Time                `json:"startedAt"`
	CompletedAt    *time.Time               `json:"completedAt"`
	ErrorDetails   *models.ErrorDetails     `json:"errorDetails"`
}

// Start creates a run for a task in backlog or spec and launches it.
func (o *Orchestrator) Start(ctx context.Context, taskID, apiKey string) (string, error) {
	runID, err := o.start(ctx, taskID, apiKey)
	recordControl("start", err)
	return runID, err
}

func (o *Orchestrator) start(ctx context.Context, taskID, apiKey string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", controlErr(KindValidation, "An API key is required to start a pipeline")
	}
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if !task.Status.CanStart() {
		return "", controlErr(KindInvalidState, "Task must be in backlog or spec to start a pipeline (current: %s)", task.Status)
	}

	if err := o.begin(); err != nil {
		return "", err
	}
	run := newRun(taskID, 0)
	if err := o.store.CreateRunExclusive(ctx, run, nil); err != nil {
		o.wg.Done()
		return "", o.createErr(err)
	}

	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusSpec); err != nil {
		getLog().Warn().Err(err).Str("task_id", taskID).Msg("Failed to move task to spec")
	} else {
		o.events.Push(taskID, protocol.TaskStatusEvent{TaskID: taskID, NewStatus: models.TaskStatusSpec, Timestamp: protocol.Now()})
	}

	runsStarted.WithLabelValues("start").Inc()
	getLog().Info().Str("task_id", taskID).Str("run_id", run.ID).Msg("Pipeline run started")
	o.launch(run, apiKey, 0)
	return run.ID, nil
}

// Cancel stops a running or paused run. The cancelled state is persisted
// before the execution is signalled, so any agent result that arrives later
// is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, taskID, runID string) (*CancelResult, error) {
	res, err := o.cancel(ctx, taskID, runID)
	recordControl("cancel", err)
	return res, err
}

func (o *Orchestrator) cancel(ctx context.Context, taskID, runID string) (*CancelResult, error) {
	run, err := o.loadRun(ctx, taskID, runID)
	if err != nil {
		return nil, err
	}
	if !run.IsActive() {
		return nil, controlErr(KindInvalidState, "Pipeline is not running or paused (current: %s)", run.Status)
	}

	phase, status, now := models.PhaseCancelled, models.RunStatusCancelled, time.Now()
	err = o.store.UpdateRunAndTask(ctx, runID, database.RunPatch{
		Phase:       &phase,
		Status:      &status,
		CompletedAt: &now,
	}, models.TaskStatusBacklog, models.ActiveRunStatuses...)
	if errors.Is(err, database.ErrStaleRun) {
		return nil, controlErr(KindInvalidState, "Pipeline is no longer running or paused")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel pipeline run: %w", err)
	}

	o.scheduler.Cancel(runID)
	o.cancels.Cancel(runID)

	o.events.Push(taskID, protocol.PhaseChangeEvent{Phase: phase, Status: status, Iteration: run.Iteration, Timestamp: protocol.Now()})
	o.events.Push(taskID, protocol.TaskStatusEvent{TaskID: taskID, NewStatus: models.TaskStatusBacklog, Timestamp: protocol.Now()})
	runsFinished.WithLabelValues("cancelled").Inc()

	getLog().Info().Str("task_id", taskID).Str("run_id", runID).Msg("Pipeline run cancelled")
	return &CancelResult{RunID: runID, Status: status}, nil
}

// Retry supersedes a paused run with a fresh one that starts after the
// backoff delay for the lineage's retry count.
func (o *Orchestrator) Retry(ctx context.Context, taskID, runID, apiKey string) (*RetryResult, error) {
	res, err := o.retry(ctx, taskID, runID, apiKey)
	recordControl("retry", err)
	return res, err
}

func (o *Orchestrator) retry(ctx context.Context, taskID, runID, apiKey string) (*RetryResult, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, controlErr(KindValidation, "An API key is required to retry a pipeline")
	}
	run, err := o.loadRun(ctx, taskID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusPaused {
		return nil, controlErr(KindInvalidState, "No paused pipeline to retry (current: %s)", run.Status)
	}

	retryCount := run.RetryCount
	if run.ErrorDetails.Valid {
		retryCount = run.ErrorDetails.Val.RetryCount
	}
	if retryCount >= o.config.MaxRetries {
		return nil, controlErr(KindRetryExhausted, "Maximum retry attempts exhausted")
	}
	delay := RetryDelay(o.config.RetryBaseDelay, retryCount)

	if err := o.begin(); err != nil {
		return nil, err
	}
	next := newRun(taskID, retryCount+1)
	phase, status, now := models.PhaseFailed, models.RunStatusFailed, time.Now()
	err = o.store.CreateRunExclusive(ctx, next, &database.Supersede{
		RunID:  runID,
		Patch:  database.RunPatch{Phase: &phase, Status: &status, CompletedAt: &now},
		OnlyIf: []models.RunStatus{models.RunStatusPaused},
	})
	if err != nil {
		o.wg.Done()
		return nil, o.createErr(err)
	}

	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusSpec); err != nil {
		getLog().Warn().Err(err).Str("task_id", taskID).Msg("Failed to move task to spec")
	} else {
		o.events.Push(taskID, protocol.TaskStatusEvent{TaskID: taskID, NewStatus: models.TaskStatusSpec, Timestamp: protocol.Now()})
	}

	runsStarted.WithLabelValues("retry").Inc()
	getLog().Info().
		Str("task_id", taskID).
		Str("run_id", next.ID).
		Str("superseded_run_id", runID).
		Int("retry_count", next.RetryCount).
		Dur("delay", delay).
		Msg("Pipeline retry scheduled")
	o.launch(next, apiKey, delay)
	return &RetryResult{RunID: next.ID, Delay: delay}, nil
}

// RequestChanges appends operator feedback to a task whose run passed and
// starts a fresh run right away.
func (o *Orchestrator) RequestChanges(ctx context.Context, taskID, runID, feedback, apiKey string) (string, error) {
	id, err := o.requestChanges(ctx, taskID, runID, feedback, apiKey)
	recordControl("request_changes", err)
	return id, err
}

func (o *Orchestrator) requestChanges(ctx context.Context, taskID, runID, feedback, apiKey string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", controlErr(KindValidation, "An API key is required to request changes")
	}
	feedback = strings.TrimSpace(feedback)
	if n := utf8.RuneCountInString(feedback); n < models.MinFeedbackChars || n > models.MaxFeedbackChars {
		return "", controlErr(KindValidation, "Feedback must be between %d and %d characters", models.MinFeedbackChars, models.MaxFeedbackChars)
	}
	run, err := o.loadRun(ctx, taskID, runID)
	if err != nil {
		return "", err
	}
	if !run.Passed() {
		return "", controlErr(KindInvalidState, "Changes can only be requested on a passed pipeline (current: %s/%s)", run.Phase, run.Status)
	}
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task.Status != models.TaskStatusReview {
		return "", controlErr(KindInvalidState, "Task is not awaiting review (current: %s)", task.Status)
	}

	if err := o.begin(); err != nil {
		return "", err
	}
	next := newRun(taskID, 0)
	err = o.store.CreateChangeRequestRun(ctx, next, database.ChangeRequest{
		Suffix: "\n\n## Change Request\n" + feedback,
		From:   models.TaskStatusReview,
		To:     models.TaskStatusBuilding,
	})
	if err != nil {
		o.wg.Done()
		return "", o.createErr(err)
	}
	o.events.Push(taskID, protocol.TaskStatusEvent{TaskID: taskID, NewStatus: models.TaskStatusBuilding, Timestamp: protocol.Now()})

	runsStarted.WithLabelValues("request_changes").Inc()
	getLog().Info().Str("task_id", taskID).Str("run_id", next.ID).Msg("Change request run started")
	o.launch(next, apiKey, 0)
	return next.ID, nil
}

// Approve moves a task awaiting review to done. The run is not touched.
func (o *Orchestrator) Approve(ctx context.Context, taskID, runID string) (*ApproveResult, error) {
	res, err := o.approve(ctx, taskID, runID)
	recordControl("approve", err)
	return res, err
}

func (o *Orchestrator) approve(ctx context.Context, taskID, runID string) (*ApproveResult, error) {
	run, err := o.loadRun(ctx, taskID, runID)
	if err != nil {
		return nil, err
	}
	if !run.Passed() {
		return nil, controlErr(KindInvalidState, "Only a passed pipeline can be approved (current: %s/%s)", run.Phase, run.Status)
	}
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusReview {
		return nil, controlErr(KindInvalidState, "Task is not awaiting review (current: %s)", task.Status)
	}

	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusDone); err != nil {
		return nil, fmt.Errorf("failed to approve task: %w", err)
	}
	o.events.Push(taskID, protocol.TaskStatusEvent{TaskID: taskID, NewStatus: models.TaskStatusDone, Timestamp: protocol.Now()})
	return &ApproveResult{TaskID: taskID, Status: models.TaskStatusDone}, nil
}

// Status summarises the latest run of a task. It returns nil when the task
// has never run.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*RunSummary, error) {
	run, err := o.store.LatestRunForTask(ctx, taskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline status: %w", err)
	}
	return summarize(run), nil
}

// Runs returns the run history of a task, newest first.
func (o *Orchestrator) Runs(ctx context.Context, taskID string) ([]*models.PipelineRun, error) {
	if _, err := o.loadTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.store.ListRunsForTask(ctx, taskID)
}

// Recover pauses runs left running by a previous process so an operator can
// retry or cancel them. Call it before serving control operations.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	runs, err := o.store.ListRunsByStatus(ctx, models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned runs: %w", err)
	}

	recovered := 0
	for _, run := range runs {
		details := models.ErrorDetails{
			Type:        models.ErrorTypeUnknown,
			Message:     "Run was interrupted before it finished",
			FailedPhase: run.Phase,
			RetryCount:  run.RetryCount,
			MaxRetries:  o.config.MaxRetries,
			Timestamp:   protocol.Now(),
		}
		paused := models.RunStatusPaused
		err := o.store.UpdateRun(ctx, run.ID, database.RunPatch{Status: &paused, ErrorDetails: &details}, models.RunStatusRunning)
		if err != nil {
			getLog().Warn().Err(err).Str("run_id", run.ID).Msg("Failed to pause orphaned run")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		getLog().Info().Int("runs", recovered).Msg("Paused runs interrupted by a previous shutdown")
	}
	return recovered, nil
}

// Close stops delayed retries, cancels every in-flight run and waits for
// their goroutines.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.scheduler.Stop()
	o.cancels.CancelAll()
	o.wg.Wait()
	getLog().Info().Msg("Orchestrator stopped")
}

// begin reserves a slot in the wait group unless the orchestrator is closed.
// The caller must either launch a run or call wg.Done.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	o.wg.Add(1)
	return nil
}

func (o *Orchestrator) loadTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, controlErr(KindNotFound, "Task %s not found", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return task, nil
}

func (o *Orchestrator) loadRun(ctx context.Context, taskID, runID string) (*models.PipelineRun, error) {
	run, err := o.store.GetTaskRun(ctx, taskID, runID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, controlErr(KindNotFound, "Pipeline run %s not found for task %s", runID, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline run: %w", err)
	}
	return run, nil
}

func (o *Orchestrator) createErr(err error) error {
	switch {
	case errors.Is(err, database.ErrActiveRunExists):
		return &ControlError{Kind: KindConflict, Message: "A pipeline is already running or paused for this task", Err: err}
	case errors.Is(err, database.ErrStaleRun):
		return &ControlError{Kind: KindInvalidState, Message: "Pipeline is no longer paused", Err: err}
	case errors.Is(err, database.ErrStaleTask):
		return &ControlError{Kind: KindInvalidState, Message: "Task is no longer awaiting review", Err: err}
	case errors.Is(err, database.ErrNotFound):
		return &ControlError{Kind: KindNotFound, Message: "Pipeline run not found", Err: err}
	}
	return fmt.Errorf("failed to create pipeline run: %w", err)
}

func newRun(taskID string, retryCount int) *models.PipelineRun {
	return &models.PipelineRun{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Phase:      models.PhasePlanning,
		Status:     models.RunStatusRunning,
		RetryCount: retryCount,
		AgentLogs:  models.NewAgentLogs(),
		StartedAt:  time.Now(),
	}
}

func summarize(run *models.PipelineRun) *RunSummary {
	s := &RunSummary{
		RunID:          run.ID,
		Phase:          run.Phase,
		Status:         run.Status,
		Iteration:      run.Iteration,
		RetryCount:     run.RetryCount,
		LogCounts:      run.AgentLogs.Counts(),
		HasFileChanges: run.FileChanges != nil,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		ErrorDetails:   run.ErrorDetails.Ptr(),
	}
	if run.ReviewFindings.Valid {
		score := run.ReviewFindings.Val.Score
		s.ReviewScore = &score
	}
	return s
}

func recordControl(op string, err error) {
	outcome := "ok"
	var ce *ControlError
	switch {
	case errors.As(err, &ce):
		outcome = string(ce.Kind)
	case err != nil:
		outcome = "error"
	}
	controlOps.WithLabelValues(op, outcome).Inc()
}
