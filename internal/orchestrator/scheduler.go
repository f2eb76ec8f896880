// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"errors"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned when scheduling after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

type scheduled struct {
	timer    *time.Timer
	onCancel func()
}

// Scheduler runs delayed work keyed by ID. Every entry ends exactly once:
// either fire runs, or onCancel runs because of Cancel or Stop.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*scheduled
	stopped bool
}

// NewScheduler creates a running scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{entries: make(map[string]*scheduled)}
}

// Schedule arranges for fire to run after delay. An existing entry with the
// same key is cancelled first.
func (s *Scheduler) Schedule(key string, delay time.Duration, fire, onCancel func()) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	prev := s.detachLocked(key)

	entry := &scheduled{onCancel: onCancel}
	entry.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.entries[key]
		if !ok || current != entry {
			s.mu.Unlock()
			return
		}
		delete(s.entries, key)
		s.mu.Unlock()
		fire()
	})
	s.entries[key] = entry
	s.mu.Unlock()

	if prev != nil && prev.onCancel != nil {
		prev.onCancel()
	}
	return nil
}

// Cancel drops a pending entry. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	entry := s.detachLocked(key)
	s.mu.Unlock()

	if entry == nil {
		return false
	}
	if entry.onCancel != nil {
		entry.onCancel()
	}
	return true
}

// Pending reports whether key is waiting to fire.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Stop cancels every pending entry and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	entries := s.entries
	s.entries = make(map[string]*scheduled)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		if entry.onCancel != nil {
			entry.onCancel()
		}
	}
}

func (s *Scheduler) detachLocked(key string) *scheduled {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	delete(s.entries, key)
	entry.timer.Stop()
	return entry
}
