// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

// Step is one scripted response: chunks streamed in order, then Err.
type Step struct {
	Chunks []string
	Err    error
	// Delay is slept before each chunk, honouring cancellation.
	Delay time.Duration
	// Block waits for cancellation instead of responding.
	Block bool
	// Started, when set, is closed once the step begins.
	Started chan struct{}
}

// Text returns a step that streams s as a single chunk.
func Text(s string) Step {
	return Step{Chunks: []string{s}}
}

// Fail returns a step that fails with err before streaming anything.
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedProvider replays queued steps per role. It backs integration tests
// and offline runs without touching a real model.
type ScriptedProvider struct {
	mu       sync.Mutex
	queues   map[models.AgentRole][]Step
	requests []Request
}

// NewScriptedProvider creates an empty provider.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{queues: make(map[models.AgentRole][]Step)}
}

// Enqueue appends steps for role.
func (p *ScriptedProvider) Enqueue(role models.AgentRole, steps ...Step) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[role] = append(p.queues[role], steps...)
	return p
}

// Requests returns a copy of every request received so far.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Calls returns how many requests were made for role.
func (p *ScriptedProvider) Calls(role models.AgentRole) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.requests {
		if r.Role == role {
			n++
		}
	}
	return n
}

// Remaining returns the number of unconsumed steps for role.
func (p *ScriptedProvider) Remaining(role models.AgentRole) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[role])
}

// Stream implements Provider.
func (p *ScriptedProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	queue := p.queues[req.Role]
	if len(queue) == 0 {
		p.mu.Unlock()
		return fmt.Errorf("no scripted response left for %s", req.Role)
	}
	step := queue[0]
	p.queues[req.Role] = queue[1:]
	p.mu.Unlock()

	if step.Started != nil {
		close(step.Started)
	}

	if step.Block {
		<-ctx.Done()
		return ctx.Err()
	}

	for _, chunk := range step.Chunks {
		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step.Delay):
			}
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return step.Err
}
