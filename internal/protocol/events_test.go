// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"testing"

	"github.com/noldarim/codeforge/internal/orchestrator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSSE(&buf, PhaseChangeEvent{
		Phase:     models.PhaseCoding,
		Status:    models.RunStatusRunning,
		Iteration: 0,
		Timestamp: 1700000000000,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"event: phase-change\ndata: {\"phase\":\"coding\",\"status\":\"running\",\"iteration\":0,\"timestamp\":1700000000000}\n\n",
		buf.String())
}

func TestEventTypes(t *testing.T) {
	cases := map[string]Event{
		TypeConnected:        ConnectedEvent{},
		TypeAgentLog:         AgentLogEvent{},
		TypePhaseChange:      PhaseChangeEvent{},
		TypeTaskStatus:       TaskStatusEvent{},
		TypeError:            ErrorEvent{},
		TypePipelineComplete: PipelineCompleteEvent{},
		TypeTimeout:          TimeoutEvent{},
		TypeHeartbeat:        HeartbeatEvent{},
	}
	for want, e := range cases {
		assert.Equal(t, want, e.EventType())
	}
}

func TestNewErrorEvent(t *testing.T) {
	code := 401
	e := NewErrorEvent(models.ErrorDetails{
		Type:        models.ErrorTypeAPI,
		Message:     "invalid x-api-key",
		StatusCode:  &code,
		FailedAgent: models.RoleCoder,
		FailedPhase: models.PhaseCoding,
		RetryCount:  0,
		MaxRetries:  3,
	})

	assert.True(t, e.Retryable)
	assert.Equal(t, models.ErrorTypeAPI, e.Type)
	require.NotNil(t, e.ErrorDetails)
	assert.Equal(t, 401, *e.ErrorDetails.StatusCode)
	assert.NotZero(t, e.Timestamp)

	exhausted := NewErrorEvent(models.ErrorDetails{Type: models.ErrorTypeParse, RetryCount: 3, MaxRetries: 3})
	assert.False(t, exhausted.Retryable)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := AgentLogEvent{Agent: models.RolePlanner, Chunk: "thinking", Timestamp: 42}

	data, err := MarshalEnvelope("task-1", in)
	require.NoError(t, err)

	taskID, out, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, in, out)
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	_, _, err := DecodeEnvelope([]byte(`{"type":"error","message":"too many connections"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many connections")

	_, _, err = DecodeEnvelope([]byte(`{"type":"event","event_type":"mystery","payload":{}}`))
	assert.Error(t, err)

	_, _, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}
