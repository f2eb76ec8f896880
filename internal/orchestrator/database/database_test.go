// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"testing"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	TestTaskID1 = "task-1"
	TestTaskID2 = "task-2"
)

func createTestTask(t *testing.T, db *GormDB, id string) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:          id,
		Title:       "Add logout button",
		Description: "Header needs a logout button",
		Category:    models.CategoryFeature,
	}
	require.NoError(t, db.CreateTask(context.Background(), task))
	return task
}

func newRun(id, taskID string) *models.PipelineRun {
	return &models.PipelineRun{
		ID:        id,
		TaskID:    taskID,
		AgentLogs: models.NewAgentLogs(),
	}
}

func TestMigrateAndValidateSchema(t *testing.T) {
	f := UseFreshInMemoryDatabase(t)
	assert.NoError(t, f.DB.ValidateSchema())
}

func TestTaskLifecycle(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()

	created := createTestTask(t, db, TestTaskID1)
	assert.Equal(t, models.TaskStatusBacklog, created.Status)

	require.NoError(t, db.UpdateTaskStatus(ctx, TestTaskID1, models.TaskStatusSpec))
	subtasks := models.Subtasks{{ID: "1", Title: "Button", Description: "Render it", Order: 1}}
	require.NoError(t, db.SetTaskSubtasks(ctx, TestTaskID1, subtasks))

	task, err := db.GetTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSpec, task.Status)
	assert.Equal(t, subtasks, task.Subtasks)

	tasks, err := db.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestGetTask_NotFound(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	_, err := db.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = db.UpdateTaskStatus(context.Background(), "missing", models.TaskStatusDone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRunExclusive(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	createTestTask(t, db, TestTaskID2)

	require.NoError(t, db.CreateRunExclusive(ctx, newRun("run-1", TestTaskID1), nil))

	err := db.CreateRunExclusive(ctx, newRun("run-2", TestTaskID1), nil)
	assert.ErrorIs(t, err, ErrActiveRunExists)

	// other tasks are unaffected
	require.NoError(t, db.CreateRunExclusive(ctx, newRun("run-3", TestTaskID2), nil))

	run, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, run.Phase)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 0, run.Iteration)
	assert.Nil(t, run.FileChanges)
	assert.False(t, run.ReviewFindings.Valid)
	assert.False(t, run.ErrorDetails.Valid)
	assert.False(t, run.StartedAt.IsZero())
}

func TestCreateRunExclusive_Supersede(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)

	paused := models.RunStatusPaused
	require.NoError(t, db.CreateRunExclusive(ctx, newRun("run-1", TestTaskID1), nil))
	require.NoError(t, db.UpdateRun(ctx, "run-1", RunPatch{
		Status:       &paused,
		ErrorDetails: &models.ErrorDetails{Type: models.ErrorTypeAPI, Message: "boom", MaxRetries: 3},
	}))

	failed := models.RunStatusFailed
	failedPhase := models.PhaseFailed
	now := time.Now()
	err := db.CreateRunExclusive(ctx, newRun("run-2", TestTaskID1), &Supersede{
		RunID: "run-1",
		Patch: RunPatch{Phase: &failedPhase, Status: &failed, CompletedAt: &now},
	})
	require.NoError(t, err)

	old, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, old.Status)
	assert.NotNil(t, old.CompletedAt)
	assert.True(t, old.ErrorDetails.Valid, "superseded run keeps its error details")

	active, err := db.ActiveRunForTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, "run-2", active.ID)
}

func TestCreateRunExclusive_SupersedeMissingRollsBack(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)

	failed := models.RunStatusFailed
	err := db.CreateRunExclusive(ctx, newRun("run-2", TestTaskID1), &Supersede{
		RunID: "nope",
		Patch: RunPatch{Status: &failed},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetRun(ctx, "run-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRun_PersistsTypedColumns(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	require.NoError(t, db.CreateRun(ctx, newRun("run-1", TestTaskID1)))

	logs := models.NewAgentLogs()
	logs.Append(models.RoleCoder, "chunk-1", "chunk-2")
	changes := models.FileChanges{{FilePath: "main.go", Language: "go", Content: "package main", Action: models.ActionCreate}}
	review := &models.ReviewResult{Passed: false, Score: 60, Findings: []models.Finding{
		{Severity: models.SeverityWarning, File: "main.go", Line: 3, Message: "naming"},
	}}
	iteration := 1
	phase := models.PhaseFixing

	require.NoError(t, db.UpdateRun(ctx, "run-1", RunPatch{
		Phase:          &phase,
		Iteration:      &iteration,
		AgentLogs:      &logs,
		FileChanges:    changes,
		ReviewFindings: review,
	}, models.RunStatusRunning))

	run, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFixing, run.Phase)
	assert.Equal(t, 1, run.Iteration)
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, run.AgentLogs.Coder)
	assert.Equal(t, changes, run.FileChanges)
	require.True(t, run.ReviewFindings.Valid)
	assert.Equal(t, *review, run.ReviewFindings.Val)
}

func TestUpdateRun_GuardedByStatus(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	require.NoError(t, db.CreateRun(ctx, newRun("run-1", TestTaskID1)))

	cancelled := models.RunStatusCancelled
	require.NoError(t, db.UpdateRun(ctx, "run-1", RunPatch{Status: &cancelled}))

	phase := models.PhaseCoding
	err := db.UpdateRun(ctx, "run-1", RunPatch{Phase: &phase}, models.RunStatusRunning)
	assert.ErrorIs(t, err, ErrStaleRun)

	run, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, run.Phase)
}

func TestUpdateRun_ClearError(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	require.NoError(t, db.CreateRun(ctx, newRun("run-1", TestTaskID1)))

	require.NoError(t, db.UpdateRun(ctx, "run-1", RunPatch{
		ErrorDetails: &models.ErrorDetails{Type: models.ErrorTypeUnknown, Message: "x", MaxRetries: 3},
	}))
	require.NoError(t, db.UpdateRun(ctx, "run-1", RunPatch{ClearError: true}))

	run, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, run.ErrorDetails.Valid)
}

func TestRunQueries(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)

	first := newRun("run-1", TestTaskID1)
	first.StartedAt = time.Now().Add(-time.Hour)
	first.Status = models.RunStatusFailed
	first.Phase = models.PhaseFailed
	require.NoError(t, db.CreateRun(ctx, first))
	require.NoError(t, db.CreateRun(ctx, newRun("run-2", TestTaskID1)))

	latest, err := db.LatestRunForTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)

	runs, err := db.ListRunsForTask(ctx, TestTaskID1)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)

	_, err = db.GetTaskRun(ctx, TestTaskID2, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.LatestRunForTask(ctx, TestTaskID2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRunAndTask(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	require.NoError(t, db.CreateRun(ctx, newRun("run-1", TestTaskID1)))

	phase := models.PhaseCoding
	require.NoError(t, db.UpdateRunAndTask(ctx, "run-1", RunPatch{Phase: &phase}, models.TaskStatusBuilding, models.RunStatusRunning))

	task, err := db.GetTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBuilding, task.Status)

	cancelled := models.RunStatusCancelled
	require.NoError(t, db.UpdateRun(ctx, "run-1", RunPatch{Status: &cancelled}))

	// Guard misses: neither run nor task change.
	reviewing := models.PhaseReviewing
	err = db.UpdateRunAndTask(ctx, "run-1", RunPatch{Phase: &reviewing}, models.TaskStatusReview, models.RunStatusRunning)
	assert.ErrorIs(t, err, ErrStaleRun)

	task, err = db.GetTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBuilding, task.Status)

	err = db.UpdateRunAndTask(ctx, "missing", RunPatch{Phase: &reviewing}, models.TaskStatusReview)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRunExclusive_SupersedeGuard(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)

	old := newRun("run-1", TestTaskID1)
	old.Status = models.RunStatusCancelled
	old.Phase = models.PhaseCancelled
	require.NoError(t, db.CreateRun(ctx, old))

	failed := models.RunStatusFailed
	err := db.CreateRunExclusive(ctx, newRun("run-2", TestTaskID1), &Supersede{
		RunID:  "run-1",
		Patch:  RunPatch{Status: &failed},
		OnlyIf: []models.RunStatus{models.RunStatusPaused},
	})
	assert.ErrorIs(t, err, ErrStaleRun)

	_, err = db.GetRun(ctx, "run-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsByStatus(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	createTestTask(t, db, TestTaskID2)

	require.NoError(t, db.CreateRun(ctx, newRun("run-1", TestTaskID1)))
	done := newRun("run-2", TestTaskID2)
	done.Status = models.RunStatusPassed
	done.Phase = models.PhaseCompleted
	require.NoError(t, db.CreateRun(ctx, done))

	runs, err := db.ListRunsByStatus(ctx, models.RunStatusRunning)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestCreateChangeRequestRun(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	require.NoError(t, db.UpdateTaskStatus(ctx, TestTaskID1, models.TaskStatusReview))

	cr := ChangeRequest{
		Suffix: "\n\n## Change Request\nMake it red",
		From:   models.TaskStatusReview,
		To:     models.TaskStatusBuilding,
	}
	require.NoError(t, db.CreateChangeRequestRun(ctx, newRun("run-1", TestTaskID1), cr))

	task, err := db.GetTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBuilding, task.Status)
	assert.Equal(t, "Header needs a logout button\n\n## Change Request\nMake it red", task.Description)

	_, err = db.GetRun(ctx, "run-1")
	assert.NoError(t, err)
}

func TestCreateChangeRequestRun_TaskNotInStatus(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	require.NoError(t, db.UpdateTaskStatus(ctx, TestTaskID1, models.TaskStatusDone))

	err := db.CreateChangeRequestRun(ctx, newRun("run-1", TestTaskID1), ChangeRequest{
		Suffix: "\n\nignored",
		From:   models.TaskStatusReview,
		To:     models.TaskStatusBuilding,
	})
	assert.ErrorIs(t, err, ErrStaleTask)

	task, err := db.GetTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, task.Status)
	assert.Equal(t, "Header needs a logout button", task.Description)

	_, err = db.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateChangeRequestRun_ActiveRunRollsBack(t *testing.T) {
	db := UseFreshInMemoryDatabase(t).DB
	ctx := context.Background()
	createTestTask(t, db, TestTaskID1)
	require.NoError(t, db.UpdateTaskStatus(ctx, TestTaskID1, models.TaskStatusReview))
	require.NoError(t, db.CreateRun(ctx, newRun("run-1", TestTaskID1)))

	err := db.CreateChangeRequestRun(ctx, newRun("run-2", TestTaskID1), ChangeRequest{
		Suffix: "\n\nMore",
		From:   models.TaskStatusReview,
		To:     models.TaskStatusBuilding,
	})
	assert.ErrorIs(t, err, ErrActiveRunExists)

	task, err := db.GetTask(ctx, TestTaskID1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReview, task.Status, "task update rolled back")
	assert.Equal(t, "Header needs a logout button", task.Description)
}
