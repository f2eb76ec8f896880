// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/noldarim/codeforge/internal/orchestrator/agents/prompts"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

// TaskBrief is the task context every prompt carries.
type TaskBrief struct {
	Title       string
	Description string
	Category    models.TaskCategory
}

// PlanInput feeds the planner.
type PlanInput struct {
	Task TaskBrief
}

// CodeInput feeds the coder's first pass.
type CodeInput struct {
	Task     TaskBrief
	Subtasks models.Subtasks
}

// FixInput feeds the coder when revising after a failed review.
type FixInput struct {
	Task        TaskBrief
	Subtasks    models.Subtasks
	Files       models.FileChanges
	Review      models.ReviewResult
	Attempt     int
	MaxAttempts int
}

// ReviewInput feeds the reviewer.
type ReviewInput struct {
	Task          TaskBrief
	Subtasks      models.Subtasks
	Files         models.FileChanges
	PassThreshold int
}

// OutputParseError is returned when an agent's output stays unparseable after
// the corrective retry.
type OutputParseError struct {
	Role    models.AgentRole
	Message string
}

func (e *OutputParseError) Error() string {
	return fmt.Sprintf("%s output failed schema validation after retry: %s", e.Role, e.Message)
}

// Adapters run the three agents and turn their output into typed documents.
type Adapters struct {
	runner   *Runner
	prompts  *prompts.Library
	settings Settings
}

// NewAdapters creates adapters. A zero pass threshold selects the default.
func NewAdapters(runner *Runner, lib *prompts.Library, settings Settings) *Adapters {
	if settings.PassThreshold == 0 {
		settings.PassThreshold = DefaultPassThreshold
	}
	return &Adapters{runner: runner, prompts: lib, settings: settings}
}

// Plan decomposes a task into subtasks.
func (a *Adapters) Plan(ctx context.Context, apiKey string, in PlanInput, sink ChunkSink) (models.SubtaskList, error) {
	return invoke(ctx, a, call[models.SubtaskList]{
		role:   models.RolePlanner,
		prompt: prompts.Plan,
		data:   in,
		schema: SchemaSubtaskList,
		parse:  ParseSubtasks,
	}, apiKey, sink)
}

// Code produces the first change set for the subtasks.
func (a *Adapters) Code(ctx context.Context, apiKey string, in CodeInput, sink ChunkSink) (models.FileChangeSet, error) {
	return invoke(ctx, a, call[models.FileChangeSet]{
		role:   models.RoleCoder,
		prompt: prompts.Code,
		data:   in,
		schema: SchemaFileChangeSet,
		parse:  ParseFileChanges,
	}, apiKey, sink)
}

// Fix revises a change set against review findings.
func (a *Adapters) Fix(ctx context.Context, apiKey string, in FixInput, sink ChunkSink) (models.FileChangeSet, error) {
	return invoke(ctx, a, call[models.FileChangeSet]{
		role:   models.RoleCoder,
		prompt: prompts.Fix,
		data:   in,
		schema: SchemaFileChangeSet,
		parse:  ParseFileChanges,
	}, apiKey, sink)
}

// Review grades a change set. The returned verdict is normalized: it passes
// only when the model says so, the score reaches the threshold and no finding
// has error severity.
func (a *Adapters) Review(ctx context.Context, apiKey string, in ReviewInput, sink ChunkSink) (models.ReviewResult, error) {
	if in.PassThreshold == 0 {
		in.PassThreshold = a.settings.PassThreshold
	}
	result, err := invoke(ctx, a, call[models.ReviewResult]{
		role:   models.RoleReviewer,
		prompt: prompts.Review,
		data:   in,
		schema: SchemaReviewResult,
		parse:  ParseReview,
	}, apiKey, sink)
	if err != nil {
		return models.ReviewResult{}, err
	}
	result.Passed = result.Passed && result.Score >= in.PassThreshold && !result.HasErrors()
	return result, nil
}

type call[T any] struct {
	role   models.AgentRole
	prompt string
	data   any
	schema string
	parse  func(string) (T, error)
}

func invoke[T any](ctx context.Context, a *Adapters, c call[T], apiKey string, sink ChunkSink) (T, error) {
	var zero T
	if sink == nil {
		sink = discardSink{}
	}

	p, err := a.prompts.Render(c.prompt, c.data)
	if err != nil {
		return zero, err
	}

	rs := a.settings.For(c.role)
	inv := Invocation{
		Role:      c.role,
		Model:     rs.Model,
		MaxTokens: rs.MaxTokens,
		System:    p.System,
		User:      p.User,
		APIKey:    apiKey,
	}

	text, err := a.runner.Run(ctx, inv, sink)
	if err != nil {
		return zero, err
	}
	v, err := c.parse(text)
	if err == nil {
		return v, nil
	}

	getLog().Warn().Err(err).Str("role", string(c.role)).Msg("Agent output not parseable, retrying with corrective instruction")
	parseRetries.WithLabelValues(string(c.role)).Inc()
	sink.WriteChunk(fmt.Sprintf("\n\n[%s: output was not valid JSON, retrying with explicit instruction]\n", roleTitle(c.role)))

	inv.User = p.User + fmt.Sprintf("\n\n**IMPORTANT**: Your previous response was not valid JSON. Respond with ONLY valid JSON matching the %s schema. No explanation, no markdown fences outside the JSON.", c.schema)
	text, err = a.runner.Run(ctx, inv, sink)
	if err != nil {
		return zero, err
	}
	v, err = c.parse(text)
	if err != nil {
		parseFailures.WithLabelValues(string(c.role)).Inc()
		msg := err.Error()
		var pe *ParseError
		if errors.As(err, &pe) && pe.Cause != nil {
			msg = fmt.Sprintf("%s (%v)", msg, pe.Cause)
		}
		return zero, &OutputParseError{Role: c.role, Message: msg}
	}
	return v, nil
}

func roleTitle(role models.AgentRole) string {
	switch role {
	case models.RolePlanner:
		return "Planner"
	case models.RoleCoder:
		return "Coder"
	case models.RoleReviewer:
		return "Reviewer"
	}
	return string(role)
}
