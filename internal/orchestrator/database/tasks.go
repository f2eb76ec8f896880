// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"

	"github.com/noldarim/codeforge/internal/orchestrator/models"

	"gorm.io/gorm"
)

// CreateTask creates a new task
func (db *GormDB) CreateTask(ctx context.Context, task *models.Task) error {
	return db.db.WithContext(ctx).Create(task).Error
}

// GetTask retrieves a task by ID
func (db *GormDB) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := db.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, notFound(err, "task", taskID)
	}
	return &task, nil
}

// ListTasks returns every task, most recently updated first.
func (db *GormDB) ListTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	err := db.db.WithContext(ctx).Order("updated_at DESC").Find(&tasks).Error
	return tasks, err
}

// UpdateTaskStatus moves a task to another board column.
func (db *GormDB) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	res := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "task", taskID)
	}
	return nil
}

// SetTaskSubtasks replaces the planner output stored on a task.
func (db *GormDB) SetTaskSubtasks(ctx context.Context, taskID string, subtasks models.Subtasks) error {
	return db.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).
		Update("subtasks", subtasks).Error
}
