// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"sync"
)

// CancelRegistry maps run IDs to the cancel functions of their executions.
// Handles only reach executions started by this process.
type CancelRegistry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{handles: make(map[string]context.CancelFunc)}
}

// Register stores cancel for runID, replacing any previous handle.
func (r *CancelRegistry) Register(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[runID] = cancel
}

// Cancel signals the run's execution and forgets it. It reports whether a
// handle was found.
func (r *CancelRegistry) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.handles[runID]
	delete(r.handles, runID)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Remove forgets the handle without signalling.
func (r *CancelRegistry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, runID)
}

// CancelAll signals every registered execution.
func (r *CancelRegistry) CancelAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]context.CancelFunc)
	r.mu.Unlock()

	for _, cancel := range handles {
		cancel()
	}
}

// Len returns the number of registered executions.
func (r *CancelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
