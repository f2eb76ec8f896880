// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskStatus is the board column a task sits in.
type TaskStatus string

const (
	TaskStatusBacklog  TaskStatus = "backlog"
	TaskStatusSpec     TaskStatus = "spec"
	TaskStatusBuilding TaskStatus = "building"
	TaskStatusReview   TaskStatus = "review"
	TaskStatusDone     TaskStatus = "done"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusSpec, TaskStatusBuilding, TaskStatusReview, TaskStatusDone:
		return true
	}
	return false
}

// CanStart reports whether a pipeline run may start from s.
func (s TaskStatus) CanStart() bool {
	return s == TaskStatusBacklog || s == TaskStatusSpec
}

// TaskCategory classifies the kind of work a task asks for.
type TaskCategory string

const (
	CategoryFeature     TaskCategory = "feature"
	CategoryBugFix      TaskCategory = "bug-fix"
	CategoryRefactoring TaskCategory = "refactoring"
	CategoryPerformance TaskCategory = "performance"
	CategorySecurity    TaskCategory = "security"
	CategoryUIUX        TaskCategory = "ui-ux"
)

// TaskCategories lists every accepted category.
var TaskCategories = []TaskCategory{
	CategoryFeature, CategoryBugFix, CategoryRefactoring,
	CategoryPerformance, CategorySecurity, CategoryUIUX,
}

// Valid reports whether c is a known category.
func (c TaskCategory) Valid() bool {
	for _, known := range TaskCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Task is the unit of work a pipeline run implements.
type Task struct {
	ID          string       `gorm:"primaryKey;type:text" json:"id"`
	Title       string       `gorm:"not null;type:text" json:"title"`
	Description string       `gorm:"type:text" json:"description"`
	Category    TaskCategory `gorm:"not null;type:text" json:"category"`
	Status      TaskStatus   `gorm:"not null;type:text;index" json:"status"`
	Subtasks    Subtasks     `gorm:"type:text" json:"subtasks"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// TableName specifies the table name for Task
func (Task) TableName() string {
	return "tasks"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.Status == "" {
		t.Status = TaskStatusBacklog
	}
	if t.Category == "" {
		t.Category = CategoryFeature
	}
	return nil
}
