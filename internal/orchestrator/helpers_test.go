// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/orchestrator/agents"
	"github.com/noldarim/codeforge/internal/orchestrator/agents/prompts"
	"github.com/noldarim/codeforge/internal/orchestrator/database"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/protocol"
	"github.com/stretchr/testify/require"
)

const (
	planJSON = `{"subtasks":[
		{"id":"subtask-1","title":"Model","description":"Add the user model","order":1},
		{"id":"subtask-2","title":"Handler","description":"Add the login handler","order":2},
		{"id":"subtask-3","title":"Tests","description":"Cover the handler","order":3}]}`
	codeJSON = `{"files":[
		{"filePath":"user.go","language":"go","content":"package user\n","action":"create"},
		{"filePath":"login.go","language":"go","content":"package user\n\nfunc Login() {}\n","action":"create"}]}`
	fixJSON        = `{"files":[{"filePath":"login.go","language":"go","content":"package user\n\nfunc Login() error { return nil }\n","action":"modify"}]}`
	passReviewJSON = `{"passed":true,"score":92,"findings":[]}`
	lowReviewJSON  = `{"passed":true,"score":60,"findings":[]}`
	failReviewJSON = `{"passed":false,"score":40,"findings":[{"severity":"error","file":"login.go","line":3,"message":"Login ignores the password"}]}`
)

// recorder is an events.Publisher that keeps everything pushed to it.
type recorder struct {
	mu     sync.Mutex
	events map[string][]protocol.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]protocol.Event)}
}

func (r *recorder) Push(taskID string, e protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[taskID] = append(r.events[taskID], e)
}

func (r *recorder) all(taskID string) []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events[taskID]...)
}

func (r *recorder) phases(taskID string) []models.Phase {
	var out []models.Phase
	for _, e := range r.all(taskID) {
		if pc, ok := e.(protocol.PhaseChangeEvent); ok {
			out = append(out, pc.Phase)
		}
	}
	return out
}

func (r *recorder) taskStatuses(taskID string) []models.TaskStatus {
	var out []models.TaskStatus
	for _, e := range r.all(taskID) {
		if ts, ok := e.(protocol.TaskStatusEvent); ok {
			out = append(out, ts.NewStatus)
		}
	}
	return out
}

func (r *recorder) ofType(taskID, eventType string) []protocol.Event {
	var out []protocol.Event
	for _, e := range r.all(taskID) {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) agentText(taskID string, role models.AgentRole) string {
	var text string
	for _, e := range r.all(taskID) {
		if l, ok := e.(protocol.AgentLogEvent); ok && l.Agent == role {
			text += l.Chunk
		}
	}
	return text
}

type fixture struct {
	t        *testing.T
	store    *database.GormDB
	provider *agents.ScriptedProvider
	events   *recorder
	orch     *Orchestrator
	config   config.PipelineConfig
}

func newFixture(t *testing.T, opts ...func(*config.PipelineConfig)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.RetryBaseDelay = 10 * time.Millisecond
	for _, opt := range opts {
		opt(&cfg.Pipeline)
	}

	db := database.UseFreshInMemoryDatabase(t).DB
	provider := agents.NewScriptedProvider()
	lib, err := prompts.Default()
	require.NoError(t, err)
	adapters := agents.NewAdapters(agents.NewRunner(provider, 0), lib, agents.SettingsFromConfig(cfg.Agents, cfg.Pipeline))

	f := &fixture{t: t, store: db, provider: provider, events: newRecorder(), config: cfg.Pipeline}
	f.orch = f.newOrchestrator(adapters)
	return f
}

func (f *fixture) newOrchestrator(a Agents) *Orchestrator {
	f.t.Helper()
	o, err := New(Deps{Store: f.store, Agents: a, Events: f.events}, f.config)
	require.NoError(f.t, err)
	f.t.Cleanup(o.Close)
	return o
}

func (f *fixture) createTask(status models.TaskStatus) *models.Task {
	f.t.Helper()
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       "Add login",
		Description: "Users sign in with email and password",
		Category:    models.CategoryFeature,
		Status:      status,
	}
	require.NoError(f.t, f.store.CreateTask(context.Background(), task))
	return task
}

// scriptHappyPath queues one plan, one code and one passing review.
func (f *fixture) scriptHappyPath() {
	f.provider.
		Enqueue(models.RolePlanner, agents.Text(planJSON)).
		Enqueue(models.RoleCoder, agents.Text(codeJSON)).
		Enqueue(models.RoleReviewer, agents.Text(passReviewJSON))
}

func (f *fixture) waitRun(runID string, cond func(*models.PipelineRun) bool) *models.PipelineRun {
	f.t.Helper()
	var run *models.PipelineRun
	require.Eventually(f.t, func() bool {
		r, err := f.store.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = r
		return cond(r)
	}, 5*time.Second, 5*time.Millisecond)
	return run
}

func (f *fixture) waitPhase(runID string, phase models.Phase, status models.RunStatus) *models.PipelineRun {
	f.t.Helper()
	return f.waitRun(runID, func(r *models.PipelineRun) bool {
		return r.Phase == phase && r.Status == status
	})
}

// settle waits for every run goroutine to return, so all events are recorded.
func (f *fixture) settle() {
	f.orch.Close()
}

func (f *fixture) task(id string) *models.Task {
	f.t.Helper()
	task, err := f.store.GetTask(context.Background(), id)
	require.NoError(f.t, err)
	return task
}

func (f *fixture) run(id string) *models.PipelineRun {
	f.t.Helper()
	run, err := f.store.GetRun(context.Background(), id)
	require.NoError(f.t, err)
	return run
}
