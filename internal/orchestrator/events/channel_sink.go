// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"errors"
	"sync"

	"github.com/noldarim/codeforge/internal/protocol"
)

var (
	// ErrSinkFull is returned when an in-process subscriber falls behind.
	ErrSinkFull = errors.New("sink buffer full")
	// ErrSinkClosed is returned when writing to a closed sink.
	ErrSinkClosed = errors.New("sink closed")
)

// ChannelSink delivers events to an in-process consumer through a buffered
// channel. Keepalives arrive as HeartbeatEvent.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan protocol.Event
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan protocol.Event, buffer)}
}

// Events returns the receive side. It is closed when the sink closes.
func (s *ChannelSink) Events() <-chan protocol.Event {
	return s.ch
}

func (s *ChannelSink) Send(e protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- e:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *ChannelSink) Keepalive() error {
	return s.Send(protocol.HeartbeatEvent{Timestamp: protocol.Now()})
}

func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
