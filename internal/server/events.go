// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the REST API and the live event transports. Control
// handlers call the orchestrator directly; run events reach clients through
// the per-task event bus as SSE streams or WebSocket subscriptions.
package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/protocol"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const streamTimeoutMessage = "Connection timed out. Reconnect if pipeline is still running."

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

var errStreamClosed = errors.New("event stream closed")

// sseSink writes bus events to one server-sent events response.
type sseSink struct {
	mu        sync.Mutex
	w         io.Writer
	rc        *http.ResponseController
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w), done: make(chan struct{})}
}

func (s *sseSink) Send(e protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.armDeadline()
	if err := protocol.WriteSSE(s.w, e); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseSink) Keepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.armDeadline()
	if _, err := io.WriteString(s.w, protocol.KeepaliveFrame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// armDeadline bounds the next write. The server write timeout is replaced so
// a long-lived stream is only cut by a client that stops reading.
func (s *sseSink) armDeadline() {
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		getLog().Debug().Err(err).Msg("Could not set stream write deadline")
	}
}

// Close stops further writes and releases the waiting handler.
func (s *sseSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *sseSink) Done() <-chan struct{} {
	return s.done
}

// StreamEvents handles GET /api/v1/tasks/{taskId}/pipeline/events
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if _, err := h.data.GetTask(r.Context(), taskID); err != nil {
		writeError(w, err, "Failed to load task")
		return
	}

	sink := newSSESink(w)
	sink.armDeadline()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := sink.Send(protocol.ConnectedEvent{TaskID: taskID, Timestamp: protocol.Now()}); err != nil {
		getLog().Debug().Err(err).Str("task_id", taskID).Msg("Event stream closed before connect")
		return
	}

	h.bus.Register(taskID, sink)
	streamsOpen.WithLabelValues("sse").Inc()
	defer func() {
		h.bus.Unregister(taskID, sink)
		sink.Close()
		streamsOpen.WithLabelValues("sse").Dec()
	}()
	getLog().Debug().Str("task_id", taskID).Msg("Event stream opened")

	lifetime := time.NewTimer(h.streamLifetime)
	defer lifetime.Stop()

	select {
	case <-r.Context().Done():
	case <-sink.Done():
	case <-lifetime.C:
		h.bus.Unregister(taskID, sink)
		if err := sink.Send(protocol.TimeoutEvent{Message: streamTimeoutMessage, Timestamp: protocol.Now()}); err != nil {
			getLog().Debug().Err(err).Str("task_id", taskID).Msg("Failed to send stream timeout")
		}
	}
	getLog().Debug().Str("task_id", taskID).Msg("Event stream closed")
}
