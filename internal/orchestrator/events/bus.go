// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events implements the per-task broadcast bus that carries live
// pipeline events to subscriber sinks. Delivery is best-effort: a sink that
// fails a write or falls a full queue behind is dropped without affecting
// anyone else.
package events

import (
	"sync"
	"time"

	"github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/protocol"

	"github.com/rs/zerolog"
)

const (
	// DefaultKeepalive is the per-sink keepalive interval.
	DefaultKeepalive = 30 * time.Second
	// QueueSize is the number of events buffered per sink before it is
	// considered stalled and dropped.
	QueueSize = 256
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetEventsLogger()
		log = &l
	})
	return log
}

// Sink is one subscriber connection.
type Sink interface {
	// Send delivers one event. An error drops the sink.
	Send(e protocol.Event) error
	// Keepalive writes a transport-level liveness signal.
	Keepalive() error
	// Close terminates the subscriber connection.
	Close()
}

// Publisher is the push side of the bus.
type Publisher interface {
	Push(taskID string, e protocol.Event)
}

// subscription owns the only goroutine that writes to its sink.
type subscription struct {
	taskID   string
	sink     Sink
	queue    chan protocol.Event
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *subscription) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// enqueue never blocks; false means the sink is QueueSize events behind.
func (s *subscription) enqueue(e protocol.Event) bool {
	select {
	case s.queue <- e:
		return true
	default:
		return false
	}
}

// Bus multiplexes events to every sink registered for a task.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[Sink]*subscription
	keepalive time.Duration
}

// NewBus creates a bus. A non-positive interval uses DefaultKeepalive.
func NewBus(keepalive time.Duration) *Bus {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Bus{
		subs:      make(map[string]map[Sink]*subscription),
		keepalive: keepalive,
	}
}

// Register adds sink to a task and starts its writer.
func (b *Bus) Register(taskID string, sink Sink) {
	sub := &subscription{
		taskID: taskID,
		sink:   sink,
		queue:  make(chan protocol.Event, QueueSize),
		stop:   make(chan struct{}),
	}

	b.mu.Lock()
	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[Sink]*subscription)
		b.subs[taskID] = set
	}
	if old, dup := set[sink]; dup {
		old.halt()
		sinksActive.Dec()
	}
	set[sink] = sub
	b.mu.Unlock()

	sinksActive.Inc()
	getLog().Debug().Str("task_id", taskID).Msg("Sink registered")

	go b.writeLoop(sub)
}

// Unregister removes sink from a task and stops its writer. Queued events not
// yet written are discarded. The sink itself is not closed; the caller owns it.
func (b *Bus) Unregister(taskID string, sink Sink) {
	b.mu.Lock()
	sub := b.detachLocked(taskID, sink)
	b.mu.Unlock()

	if sub != nil {
		sub.halt()
		sinksActive.Dec()
	}
}

// Push queues e for every sink currently registered for the task and returns
// without waiting for any write. Order across sinks is unspecified; each sink
// sees events in push order. A sink whose queue is full is dropped.
func (b *Bus) Push(taskID string, e protocol.Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[taskID]))
	for _, sub := range b.subs[taskID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	eventsPushed.WithLabelValues(e.EventType()).Inc()

	for _, sub := range targets {
		if !sub.enqueue(e) {
			sinksStalled.Inc()
			getLog().Warn().Str("task_id", taskID).Str("event", e.EventType()).Msg("Dropping stalled sink")
			b.drop(sub)
		}
	}
}

// CloseAll terminates every sink of a task.
func (b *Bus) CloseAll(taskID string) {
	b.mu.Lock()
	set := b.subs[taskID]
	delete(b.subs, taskID)
	b.mu.Unlock()

	for _, sub := range set {
		sub.halt()
		sub.sink.Close()
		sinksActive.Dec()
	}
}

// Close terminates every sink of every task.
func (b *Bus) Close() {
	b.mu.RLock()
	taskIDs := make([]string, 0, len(b.subs))
	for id := range b.subs {
		taskIDs = append(taskIDs, id)
	}
	b.mu.RUnlock()

	for _, id := range taskIDs {
		b.CloseAll(id)
	}
}

// Count returns the number of sinks registered for a task.
func (b *Bus) Count(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}

func (b *Bus) writeLoop(sub *subscription) {
	ticker := time.NewTicker(b.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case e := <-sub.queue:
			if sub.stopped() {
				return
			}
			if err := sub.sink.Send(e); err != nil {
				sinkWriteErrors.Inc()
				getLog().Debug().Err(err).Str("task_id", sub.taskID).Str("event", e.EventType()).Msg("Dropping sink after write failure")
				b.drop(sub)
				return
			}
		case <-ticker.C:
			if err := sub.sink.Keepalive(); err != nil {
				sinkWriteErrors.Inc()
				b.drop(sub)
				return
			}
		}
	}
}

// drop removes sub only if it is still the registered subscription for its sink.
func (b *Bus) drop(sub *subscription) {
	b.mu.Lock()
	removed := false
	if set, ok := b.subs[sub.taskID]; ok && set[sub.sink] == sub {
		b.detachLocked(sub.taskID, sub.sink)
		removed = true
	}
	b.mu.Unlock()

	sub.halt()
	if removed {
		sinksActive.Dec()
	}
}

func (b *Bus) detachLocked(taskID string, sink Sink) *subscription {
	set, ok := b.subs[taskID]
	if !ok {
		return nil
	}
	sub, ok := set[sink]
	if !ok {
		return nil
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(b.subs, taskID)
	}
	return sub
}
