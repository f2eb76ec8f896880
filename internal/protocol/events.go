// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the live events the orchestrator publishes for a
// task and their wire encodings. Every payload carries a Unix-millisecond
// timestamp.
package protocol

import (
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

// Event names as they appear on the wire.
const (
	TypeConnected        = "connected"
	TypeAgentLog         = "agent-log"
	TypePhaseChange      = "phase-change"
	TypeTaskStatus       = "task-status"
	TypeError            = "error"
	TypePipelineComplete = "pipeline-complete"
	TypeTimeout          = "timeout"
	TypeHeartbeat        = "heartbeat"
)

// Event is anything the orchestrator can push to a task's subscribers.
type Event interface {
	EventType() string
}

// Now returns the current time in Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ConnectedEvent is the first event a new subscriber receives.
type ConnectedEvent struct {
	TaskID    string `json:"taskId"`
	Timestamp int64  `json:"timestamp"`
}

func (ConnectedEvent) EventType() string { return TypeConnected }

// AgentLogEvent carries one raw chunk streamed by an agent.
type AgentLogEvent struct {
	Agent     models.AgentRole `json:"agent"`
	Chunk     string           `json:"chunk"`
	Timestamp int64            `json:"timestamp"`
}

func (AgentLogEvent) EventType() string { return TypeAgentLog }

// PhaseChangeEvent is pushed after every persisted transition.
type PhaseChangeEvent struct {
	Phase     models.Phase     `json:"phase"`
	Status    models.RunStatus `json:"status"`
	Iteration int              `json:"iteration"`
	Timestamp int64            `json:"timestamp"`
}

func (PhaseChangeEvent) EventType() string { return TypePhaseChange }

// TaskStatusEvent reports a board-column change of the owning task.
type TaskStatusEvent struct {
	TaskID    string            `json:"taskId"`
	NewStatus models.TaskStatus `json:"newStatus"`
	Timestamp int64             `json:"timestamp"`
}

func (TaskStatusEvent) EventType() string { return TypeTaskStatus }

// ErrorEvent reports that a run paused on an agent failure.
type ErrorEvent struct {
	Type         models.ErrorType     `json:"type"`
	Message      string               `json:"message"`
	Retryable    bool                 `json:"retryable"`
	RetryCount   int                  `json:"retryCount"`
	MaxRetries   int                  `json:"maxRetries"`
	ErrorDetails *models.ErrorDetails `json:"errorDetails,omitempty"`
	Timestamp    int64                `json:"timestamp"`
}

func (ErrorEvent) EventType() string { return TypeError }

// NewErrorEvent builds the event for a paused run's error details.
func NewErrorEvent(d models.ErrorDetails) ErrorEvent {
	return ErrorEvent{
		Type:         d.Type,
		Message:      d.Message,
		Retryable:    d.Retryable(),
		RetryCount:   d.RetryCount,
		MaxRetries:   d.MaxRetries,
		ErrorDetails: &d,
		Timestamp:    Now(),
	}
}

// Pipeline results reported by PipelineCompleteEvent.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
)

// PipelineCompleteEvent is the last event of a run that reached a verdict.
type PipelineCompleteEvent struct {
	TaskID         string               `json:"taskId"`
	Result         string               `json:"result"`
	FileChanges    models.FileChanges   `json:"fileChanges,omitempty"`
	ReviewFindings *models.ReviewResult `json:"reviewFindings,omitempty"`
	Timestamp      int64                `json:"timestamp"`
}

func (PipelineCompleteEvent) EventType() string { return TypePipelineComplete }

// TimeoutEvent tells a subscriber its connection reached its lifetime.
type TimeoutEvent struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (TimeoutEvent) EventType() string { return TypeTimeout }

// HeartbeatEvent is an explicit liveness signal for transports without
// comment frames.
type HeartbeatEvent struct {
	Timestamp int64 `json:"timestamp"`
}

func (HeartbeatEvent) EventType() string { return TypeHeartbeat }
