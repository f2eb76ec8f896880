// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"time"

	"gorm.io/gorm"
)

// Phase is the stage a pipeline run is in.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseCoding    Phase = "coding"
	PhaseReviewing Phase = "reviewing"
	PhaseFixing    Phase = "fixing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// IsTerminal reports whether no further transition can happen from p.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// RunStatus is the health/outcome of a run, orthogonal to its phase.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPassed    RunStatus = "passed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusPaused    RunStatus = "paused"
)

// IsActive reports whether a run with this status still blocks a new run for its task.
func (s RunStatus) IsActive() bool {
	return s == RunStatusRunning || s == RunStatusPaused
}

// ActiveRunStatuses lists the statuses that count as an active run.
var ActiveRunStatuses = []RunStatus{RunStatusRunning, RunStatusPaused}

// AgentRole identifies one of the three pipeline agents.
type AgentRole string

const (
	RolePlanner  AgentRole = "planner"
	RoleCoder    AgentRole = "coder"
	RoleReviewer AgentRole = "reviewer"
)

// AgentRoles lists the agents in pipeline order.
var AgentRoles = []AgentRole{RolePlanner, RoleCoder, RoleReviewer}

// PipelineRun is one execution attempt for a task.
type PipelineRun struct {
	ID             string                   `gorm:"primaryKey;type:text" json:"id"`
	TaskID         string                   `gorm:"not null;type:text;index:idx_pipeline_runs_task_status" json:"taskId"`
	Phase          Phase                    `gorm:"not null;type:text" json:"phase"`
	Status         RunStatus                `gorm:"not null;type:text;index:idx_pipeline_runs_task_status" json:"status"`
	Iteration      int                      `gorm:"not null;default:0" json:"iteration"`
	RetryCount     int                      `gorm:"not null;default:0" json:"retryCount"` // operator retries that led to this run
	AgentLogs      AgentLogs                `gorm:"type:text" json:"agentLogs"`
	FileChanges    FileChanges              `gorm:"type:text" json:"fileChanges"`
	ReviewFindings Nullable[ReviewResult]   `gorm:"type:text" json:"reviewFindings"`
	ErrorDetails   Nullable[ErrorDetails]   `gorm:"type:text" json:"errorDetails"`
	StartedAt      time.Time                `gorm:"not null" json:"startedAt"`
	CompletedAt    *time.Time               `json:"completedAt,omitempty"`
	CreatedAt      time.Time                `json:"createdAt"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

// TableName specifies the table name for PipelineRun
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (r *PipelineRun) BeforeCreate(tx *gorm.DB) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Phase == "" {
		r.Phase = PhasePlanning
	}
	if r.Status == "" {
		r.Status = RunStatusRunning
	}
	return nil
}

// IsActive reports whether the run still blocks a new run for its task.
func (r *PipelineRun) IsActive() bool {
	return r.Status.IsActive()
}

// Passed reports whether the run completed with a passing review.
func (r *PipelineRun) Passed() bool {
	return r.Phase == PhaseCompleted && r.Status == RunStatusPassed
}
