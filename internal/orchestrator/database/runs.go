// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/models"

	"gorm.io/gorm"
)

// RunPatch lists the run fields to change. Nil fields are left untouched.
type RunPatch struct {
	Phase          *models.Phase
	Status         *models.RunStatus
	Iteration      *int
	AgentLogs      *models.AgentLogs
	FileChanges    models.FileChanges
	ReviewFindings *models.ReviewResult
	ErrorDetails   *models.ErrorDetails
	ClearError     bool
	CompletedAt    *time.Time
}

func (p RunPatch) columns() map[string]any {
	cols := make(map[string]any)
	if p.Phase != nil {
		cols["phase"] = *p.Phase
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Iteration != nil {
		cols["iteration"] = *p.Iteration
	}
	if p.AgentLogs != nil {
		cols["agent_logs"] = *p.AgentLogs
	}
	if p.FileChanges != nil {
		cols["file_changes"] = p.FileChanges
	}
	if p.ReviewFindings != nil {
		cols["review_findings"] = models.Some(*p.ReviewFindings)
	}
	if p.ErrorDetails != nil {
		cols["error_details"] = models.Some(*p.ErrorDetails)
	} else if p.ClearError {
		cols["error_details"] = models.Nullable[models.ErrorDetails]{}
	}
	if p.CompletedAt != nil {
		cols["completed_at"] = *p.CompletedAt
	}
	cols["updated_at"] = time.Now()
	return cols
}

// Supersede marks an existing run terminal as part of creating its successor.
// When OnlyIf is set the superseded run must still be in one of those statuses.
type Supersede struct {
	RunID  string
	Patch  RunPatch
	OnlyIf []models.RunStatus
}

// CreateRunExclusive inserts run unless its task already has an active run.
// When supersede is set, that run is patched first inside the same
// transaction, so a paused run being retried does not count against the check.
func (db *GormDB) CreateRunExclusive(ctx context.Context, run *models.PipelineRun, supersede *Supersede) error {
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if supersede != nil {
			q := tx.Model(&models.PipelineRun{}).
				Where("id = ? AND task_id = ?", supersede.RunID, run.TaskID)
			if len(supersede.OnlyIf) > 0 {
				q = q.Where("status IN ?", supersede.OnlyIf)
			}
			res := q.Updates(supersede.Patch.columns())
			if res.Error != nil {
				return fmt.Errorf("supersede run %s: %w", supersede.RunID, res.Error)
			}
			if res.RowsAffected == 0 {
				if len(supersede.OnlyIf) > 0 {
					return fmt.Errorf("supersede run %s: %w", supersede.RunID, ErrStaleRun)
				}
				return notFound(gorm.ErrRecordNotFound, "pipeline run", supersede.RunID)
			}
		}

		return insertExclusive(tx, run)
	})
}

// ChangeRequest amends a task as part of creating its follow-up run.
type ChangeRequest struct {
	Suffix string            // appended to the description
	From   models.TaskStatus // required current status
	To     models.TaskStatus
}

// CreateChangeRequestRun appends the change request to the task, moves it
// from cr.From to cr.To and inserts run in one transaction. A task no longer
// in cr.From yields ErrStaleTask and nothing is written.
func (db *GormDB) CreateChangeRequestRun(ctx context.Context, run *models.PipelineRun, cr ChangeRequest) error {
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.Where("id = ?", run.TaskID).First(&task).Error; err != nil {
			return notFound(err, "task", run.TaskID)
		}
		res := tx.Model(&models.Task{}).
			Where("id = ? AND status = ?", run.TaskID, cr.From).
			Updates(map[string]any{
				"description": task.Description + cr.Suffix,
				"status":      cr.To,
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("task %s: %w", run.TaskID, ErrStaleTask)
		}
		return insertExclusive(tx, run)
	})
}

// insertExclusive creates run unless its task has an active run.
func insertExclusive(tx *gorm.DB, run *models.PipelineRun) error {
	var active int64
	if err := tx.Model(&models.PipelineRun{}).
		Where("task_id = ? AND status IN ?", run.TaskID, models.ActiveRunStatuses).
		Count(&active).Error; err != nil {
		return err
	}
	if active > 0 {
		return ErrActiveRunExists
	}
	return tx.Create(run).Error
}

// CreateRun inserts a run without the active-run check.
func (db *GormDB) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	return db.db.WithContext(ctx).Create(run).Error
}

// GetRun retrieves a run by ID
func (db *GormDB) GetRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	if err := db.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error; err != nil {
		return nil, notFound(err, "pipeline run", runID)
	}
	return &run, nil
}

// GetTaskRun retrieves a run and checks it belongs to the task.
func (db *GormDB) GetTaskRun(ctx context.Context, taskID, runID string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	if err := db.db.WithContext(ctx).Where("id = ? AND task_id = ?", runID, taskID).First(&run).Error; err != nil {
		return nil, notFound(err, "pipeline run", runID)
	}
	return &run, nil
}

// LatestRunForTask returns the most recently started run of a task.
func (db *GormDB) LatestRunForTask(ctx context.Context, taskID string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := db.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at DESC").Order("created_at DESC").
		First(&run).Error
	if err != nil {
		return nil, notFound(err, "pipeline run for task", taskID)
	}
	return &run, nil
}

// ActiveRunForTask returns the running or paused run of a task.
func (db *GormDB) ActiveRunForTask(ctx context.Context, taskID string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := db.db.WithContext(ctx).
		Where("task_id = ? AND status IN ?", taskID, models.ActiveRunStatuses).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, notFound(err, "active pipeline run for task", taskID)
	}
	return &run, nil
}

// ListRunsForTask returns the run history of a task, newest first.
func (db *GormDB) ListRunsForTask(ctx context.Context, taskID string) ([]*models.PipelineRun, error) {
	var runs []*models.PipelineRun
	err := db.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at DESC").
		Find(&runs).Error
	return runs, err
}

// UpdateRun applies patch to a run. When onlyIf is non-empty the update only
// matches while the run is in one of those statuses; a miss returns ErrStaleRun.
func (db *GormDB) UpdateRun(ctx context.Context, runID string, patch RunPatch, onlyIf ...models.RunStatus) error {
	return updateRun(db.db.WithContext(ctx), runID, patch, onlyIf)
}

// UpdateRunAndTask applies patch to a run and moves the run's task to
// taskStatus in the same transaction. Guard semantics match UpdateRun; when
// the guard misses, the task is left untouched.
func (db *GormDB) UpdateRunAndTask(ctx context.Context, runID string, patch RunPatch, taskStatus models.TaskStatus, onlyIf ...models.RunStatus) error {
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.PipelineRun
		if err := tx.Select("id", "task_id").Where("id = ?", runID).First(&run).Error; err != nil {
			return notFound(err, "pipeline run", runID)
		}
		if err := updateRun(tx, runID, patch, onlyIf); err != nil {
			return err
		}
		res := tx.Model(&models.Task{}).Where("id = ?", run.TaskID).Update("status", taskStatus)
		if res.Error != nil {
			return fmt.Errorf("update task %s: %w", run.TaskID, res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound(gorm.ErrRecordNotFound, "task", run.TaskID)
		}
		return nil
	})
}

// ListRunsByStatus returns every run in one of the given statuses, oldest first.
func (db *GormDB) ListRunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]*models.PipelineRun, error) {
	var runs []*models.PipelineRun
	err := db.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("started_at ASC").
		Find(&runs).Error
	return runs, err
}

func updateRun(q *gorm.DB, runID string, patch RunPatch, onlyIf []models.RunStatus) error {
	q = q.Model(&models.PipelineRun{}).Where("id = ?", runID)
	if len(onlyIf) > 0 {
		q = q.Where("status IN ?", onlyIf)
	}

	res := q.Updates(patch.columns())
	if res.Error != nil {
		return fmt.Errorf("update pipeline run %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		if len(onlyIf) > 0 {
			return fmt.Errorf("pipeline run %s: %w", runID, ErrStaleRun)
		}
		return notFound(gorm.ErrRecordNotFound, "pipeline run", runID)
	}
	return nil
}
