// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// KeepaliveFrame is the SSE comment written to idle subscribers.
const KeepaliveFrame = ": keepalive\n\n"

// WriteSSE writes one server-sent event frame.
func WriteSSE(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.EventType(), err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.EventType(), data)
	return err
}

// Envelope wraps an event for message-oriented transports.
type Envelope struct {
	Type      string `json:"type"`                 // "event" or "error"
	EventType string `json:"event_type,omitempty"` // wire event name
	TaskID    string `json:"task_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Message   string `json:"message,omitempty"`
}

// MarshalEnvelope encodes e inside an Envelope for the given task.
func MarshalEnvelope(taskID string, e Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      "event",
		EventType: e.EventType(),
		TaskID:    taskID,
		Payload:   e,
	})
}

// DecodeEnvelope turns an Envelope back into a typed event.
func DecodeEnvelope(data []byte) (string, Event, error) {
	var raw struct {
		Type      string          `json:"type"`
		EventType string          `json:"event_type"`
		TaskID    string          `json:"task_id"`
		Payload   json.RawMessage `json:"payload"`
		Message   string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, err
	}
	if raw.Type != "event" {
		return raw.TaskID, nil, fmt.Errorf("server error: %s", raw.Message)
	}

	var e Event
	switch raw.EventType {
	case TypeConnected:
		e = &ConnectedEvent{}
	case TypeAgentLog:
		e = &AgentLogEvent{}
	case TypePhaseChange:
		e = &PhaseChangeEvent{}
	case TypeTaskStatus:
		e = &TaskStatusEvent{}
	case TypeError:
		e = &ErrorEvent{}
	case TypePipelineComplete:
		e = &PipelineCompleteEvent{}
	case TypeTimeout:
		e = &TimeoutEvent{}
	case TypeHeartbeat:
		e = &HeartbeatEvent{}
	default:
		return raw.TaskID, nil, fmt.Errorf("unknown event type %q", raw.EventType)
	}
	if err := json.Unmarshal(raw.Payload, e); err != nil {
		return raw.TaskID, nil, fmt.Errorf("decode %s payload: %w", raw.EventType, err)
	}
	return raw.TaskID, deref(e), nil
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *ConnectedEvent:
		return *v
	case *AgentLogEvent:
		return *v
	case *PhaseChangeEvent:
		return *v
	case *TaskStatusEvent:
		return *v
	case *ErrorEvent:
		return *v
	case *PipelineCompleteEvent:
		return *v
	case *TimeoutEvent:
		return *v
	case *HeartbeatEvent:
		return *v
	}
	return e
}
