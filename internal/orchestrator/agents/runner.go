// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAgentsLogger()
		log = &l
	})
	return log
}

// ErrCancelled is returned when the caller's context is cancelled mid-stream.
var ErrCancelled = errors.New("agent invocation cancelled")

// ChunkSink receives streamed text as it arrives.
type ChunkSink interface {
	WriteChunk(chunk string)
}

// ChunkSinkFunc adapts a function to ChunkSink.
type ChunkSinkFunc func(chunk string)

func (f ChunkSinkFunc) WriteChunk(chunk string) { f(chunk) }

type discardSink struct{}

func (discardSink) WriteChunk(string) {}

// Invocation is one agent call.
type Invocation struct {
	Role      models.AgentRole
	Model     string
	MaxTokens int
	System    string
	User      string
	APIKey    string
}

// Runner streams one invocation through a Provider. It never retries.
type Runner struct {
	provider Provider
	timeout  time.Duration
	tracer   trace.Tracer
}

// NewRunner creates a runner. A zero timeout disables the per-call deadline.
func NewRunner(p Provider, timeout time.Duration) *Runner {
	return &Runner{
		provider: p,
		timeout:  timeout,
		tracer:   otel.Tracer("github.com/noldarim/codeforge/internal/orchestrator/agents"),
	}
}

// Run streams the invocation, forwarding every chunk to sink, and returns the
// concatenated text.
func (r *Runner) Run(ctx context.Context, inv Invocation, sink ChunkSink) (string, error) {
	if sink == nil {
		sink = discardSink{}
	}

	ctx, span := r.tracer.Start(ctx, "agent."+string(inv.Role), trace.WithAttributes(
		attribute.String("agent.role", string(inv.Role)),
		attribute.String("agent.model", inv.Model),
		attribute.Int("agent.max_tokens", inv.MaxTokens),
	))
	defer span.End()

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	start := time.Now()
	var out strings.Builder
	chunks := 0

	err := r.provider.Stream(callCtx, Request{
		Role:      inv.Role,
		Model:     inv.Model,
		System:    inv.System,
		User:      inv.User,
		MaxTokens: inv.MaxTokens,
		APIKey:    inv.APIKey,
	}, func(chunk string) error {
		if err := callCtx.Err(); err != nil {
			return err
		}
		out.WriteString(chunk)
		chunks++
		sink.WriteChunk(chunk)
		return nil
	})

	err = r.outcome(ctx, callCtx, inv, err)
	result := resultLabel(err)
	invocationsTotal.WithLabelValues(string(inv.Role), result).Inc()
	invocationDuration.WithLabelValues(string(inv.Role)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("agent.chunks", chunks), attribute.Int("agent.output_bytes", out.Len()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		getLog().Debug().Err(err).Str("role", string(inv.Role)).Str("result", result).Msg("Agent invocation ended with error")
		return "", err
	}

	getLog().Debug().
		Str("role", string(inv.Role)).
		Int("chunks", chunks).
		Dur("elapsed", time.Since(start)).
		Msg("Agent invocation completed")
	return out.String(), nil
}

func (r *Runner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// outcome maps the stream result to the runner's error contract. Caller
// cancellation takes precedence over whatever the provider returned.
func (r *Runner) outcome(parent, call context.Context, inv Invocation, err error) error {
	if parent.Err() != nil {
		return ErrCancelled
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s agent timed out after %s: %w", inv.Role, r.timeout, context.DeadlineExceeded)
	}
	if err == nil {
		return nil
	}
	if pe := ClassifyError(err); pe != nil {
		return pe
	}
	return err
}

func resultLabel(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &pe):
		return string(pe.Kind)
	}
	return "unknown"
}
