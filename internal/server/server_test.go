// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/orchestrator"
	"github.com/noldarim/codeforge/internal/orchestrator/agents"
	"github.com/noldarim/codeforge/internal/orchestrator/agents/prompts"
	"github.com/noldarim/codeforge/internal/orchestrator/database"
	"github.com/noldarim/codeforge/internal/orchestrator/events"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/orchestrator/services"
	"github.com/noldarim/codeforge/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPlan   = `{"subtasks":[{"id":"subtask-1","title":"Model","description":"Add the model","order":1}]}`
	testCode   = `{"files":[{"filePath":"main.go","language":"go","content":"package main\n","action":"create"}]}`
	testReview = `{"passed":true,"score":90,"findings":[]}`
)

type apiFixture struct {
	t        *testing.T
	srv      *httptest.Server
	data     *services.DataService
	orch     *orchestrator.Orchestrator
	bus      *events.Bus
	provider *agents.ScriptedProvider
}

func newAPIFixture(t *testing.T, mutate ...func(*config.AppConfig)) *apiFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.RetryBaseDelay = 10 * time.Millisecond
	for _, m := range mutate {
		m(cfg)
	}

	db := database.UseFreshInMemoryDatabase(t).DB
	data := services.NewDataServiceWithDB(db)
	provider := agents.NewScriptedProvider()
	lib, err := prompts.Default()
	require.NoError(t, err)
	adapters := agents.NewAdapters(agents.NewRunner(provider, 0), lib, agents.SettingsFromConfig(cfg.Agents, cfg.Pipeline))

	bus := events.NewBus(cfg.Server.Keepalive)
	orch, err := orchestrator.New(orchestrator.Deps{Store: db, Agents: adapters, Events: bus}, cfg.Pipeline)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(&cfg.Server, data, orch, bus))
	t.Cleanup(func() {
		bus.Close()
		srv.Close()
		orch.Close()
	})
	return &apiFixture{t: t, srv: srv, data: data, orch: orch, bus: bus, provider: provider}
}

func (f *apiFixture) do(method, path string, body any, headers ...string) (*http.Response, map[string]any) {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		require.NoError(f.t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (f *apiFixture) createTask() string {
	f.t.Helper()
	task, err := f.data.CreateTask(context.Background(), services.NewTask{
		Title: "Add health check", Description: "Expose /healthz", Category: models.CategoryFeature,
	})
	require.NoError(f.t, err)
	return task.ID
}

func (f *apiFixture) waitStatus(taskID string, status models.RunStatus) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		s, err := f.orch.Status(context.Background(), taskID)
		return err == nil && s != nil && s.Status == status
	}, 5*time.Second, 5*time.Millisecond)
}

func TestTasksAPI(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(http.MethodPost, "/api/v1/tasks", map[string]string{"title": "", "description": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid task", body["error"])
	assert.Contains(t, body["context"], "title")

	resp, body = f.do(http.MethodPost, "/api/v1/tasks", map[string]string{
		"title": "Add search", "description": "Full text search", "category": "performance",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, "backlog", body["status"])

	resp, body = f.do(http.MethodGet, "/api/v1/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Add search", body["title"])

	resp, body = f.do(http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	req, err := http.Get(f.srv.URL + "/api/v1/tasks")
	require.NoError(t, err)
	defer req.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestPipelineAPI_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.provider.
		Enqueue(models.RolePlanner, agents.Text(testPlan)).
		Enqueue(models.RoleCoder, agents.Text(testCode)).
		Enqueue(models.RoleReviewer, agents.Text(testReview))
	taskID := f.createTask()
	base := "/api/v1/tasks/" + taskID + "/pipeline"

	resp, body := f.do(http.MethodGet, base+"/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body, "status is null before the first run")

	resp, body = f.do(http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing API key", body["error"])

	resp, body = f.do(http.MethodPost, base+"/start", nil, "x-anthropic-key", "sk-test")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID := body["runId"].(string)
	require.NotEmpty(t, runID)

	f.waitStatus(taskID, models.RunStatusPassed)

	resp, body = f.do(http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, runID, body["runId"])
	assert.Equal(t, "completed", body["phase"])
	assert.Equal(t, true, body["hasFileChanges"])
	assert.EqualValues(t, 90, body["reviewScore"])

	resp, body = f.do(http.MethodPost, base+"/cancel", map[string]string{"runId": runID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_state", body["context"])

	resp, body = f.do(http.MethodPost, base+"/request-changes", map[string]string{"runId": runID, "feedback": "short"}, "x-anthropic-key", "sk-test")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["context"])

	resp, body = f.do(http.MethodPost, base+"/approve", map[string]string{"runId": runID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, taskID, body["taskId"])
	assert.Equal(t, "done", body["status"])

	r, err := http.Get(f.srv.URL + base + "/runs")
	require.NoError(t, err)
	defer r.Body.Close()
	var runs []map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestPipelineAPI_ConflictAndRetry(t *testing.T) {
	f := newAPIFixture(t)
	started := make(chan struct{})
	f.provider.Enqueue(models.RolePlanner, agents.Step{Block: true, Started: started})
	taskID := f.createTask()
	base := "/api/v1/tasks/" + taskID + "/pipeline"

	resp, body := f.do(http.MethodPost, base+"/start", nil, "x-anthropic-key", "sk-test")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID := body["runId"].(string)
	<-started

	resp, body = f.do(http.MethodPost, base+"/start", nil, "x-anthropic-key", "sk-test")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, body = f.do(http.MethodPost, base+"/retry", map[string]string{"runId": runID}, "x-anthropic-key", "sk-test")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "running runs cannot be retried")

	resp, body = f.do(http.MethodPost, base+"/cancel", map[string]string{"runId": runID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	resp, _ = f.do(http.MethodPost, base+"/cancel", map[string]string{"runId": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPipelineAPI_RetryPausedRun(t *testing.T) {
	f := newAPIFixture(t)
	f.provider.Enqueue(models.RolePlanner, agents.Fail(&agents.ProviderError{Kind: agents.ErrorKindRateLimited, Message: "slow down"}))
	taskID := f.createTask()
	base := "/api/v1/tasks/" + taskID + "/pipeline"

	resp, body := f.do(http.MethodPost, base+"/start", nil, "x-anthropic-key", "sk-test")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID := body["runId"].(string)
	f.waitStatus(taskID, models.RunStatusPaused)

	f.provider.
		Enqueue(models.RolePlanner, agents.Text(testPlan)).
		Enqueue(models.RoleCoder, agents.Text(testCode)).
		Enqueue(models.RoleReviewer, agents.Text(testReview))

	resp, body = f.do(http.MethodPost, base+"/retry", map[string]string{"runId": runID}, "x-anthropic-key", "sk-test")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEqual(t, runID, body["runId"])
	assert.EqualValues(t, 10, body["retryDelay"])

	f.waitStatus(taskID, models.RunStatusPassed)
}

func readEvent(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestStreamEvents(t *testing.T) {
	f := newAPIFixture(t)
	taskID := f.createTask()

	resp, err := http.Get(f.srv.URL + "/api/v1/tasks/" + taskID + "/pipeline/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	name, data := readEvent(t, rd)
	assert.Equal(t, protocol.TypeConnected, name)
	assert.Contains(t, data, taskID)

	require.Eventually(t, func() bool { return f.bus.Count(taskID) == 1 }, time.Second, 5*time.Millisecond)
	f.bus.Push(taskID, protocol.PhaseChangeEvent{Phase: models.PhaseCoding, Status: models.RunStatusRunning, Timestamp: protocol.Now()})
	f.bus.Push("other-task", protocol.PhaseChangeEvent{Phase: models.PhaseFixing})
	f.bus.Push(taskID, protocol.AgentLogEvent{Agent: models.RoleCoder, Chunk: "hello", Timestamp: protocol.Now()})

	name, data = readEvent(t, rd)
	assert.Equal(t, protocol.TypePhaseChange, name)
	assert.Contains(t, data, `"phase":"coding"`)

	name, data = readEvent(t, rd)
	assert.Equal(t, protocol.TypeAgentLog, name)
	assert.Contains(t, data, `"chunk":"hello"`)
}

func TestStreamEvents_LifetimeTimeout(t *testing.T) {
	f := newAPIFixture(t, func(c *config.AppConfig) { c.Server.StreamLifetime = 50 * time.Millisecond })
	taskID := f.createTask()

	resp, err := http.Get(f.srv.URL + "/api/v1/tasks/" + taskID + "/pipeline/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	rd := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, rd)
	assert.Equal(t, protocol.TypeConnected, name)

	name, data := readEvent(t, rd)
	assert.Equal(t, protocol.TypeTimeout, name)
	assert.Contains(t, data, "Connection timed out. Reconnect if pipeline is still running.")

	_, err = rd.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, f.bus.Count(taskID))
}

func TestStreamEvents_UnknownTask(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(http.MethodGet, "/api/v1/tasks/missing/pipeline/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestSSESink_RefusesWritesAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newSSESink(rec)

	require.NoError(t, sink.Send(protocol.HeartbeatEvent{Timestamp: 1}))
	require.NoError(t, sink.Keepalive())
	sink.Close()
	sink.Close()

	assert.ErrorIs(t, sink.Send(protocol.HeartbeatEvent{}), errStreamClosed)
	assert.ErrorIs(t, sink.Keepalive(), errStreamClosed)
	assert.Equal(t, "event: heartbeat\ndata: {\"timestamp\":1}\n\n: keepalive\n\n", rec.Body.String())
	select {
	case <-sink.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestWebSocket_SubscribeReceivesTaskEvents(t *testing.T) {
	f := newAPIFixture(t)
	taskID := f.createTask()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "filters": map[string]string{"task_id": taskID}}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	gotTask, ev, err := protocol.DecodeEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, taskID, gotTask)
	assert.Equal(t, protocol.TypeConnected, ev.EventType())

	require.Eventually(t, func() bool { return f.bus.Count(taskID) == 1 }, time.Second, 5*time.Millisecond)
	f.bus.Push(taskID, protocol.TaskStatusEvent{TaskID: taskID, NewStatus: models.TaskStatusSpec, Timestamp: protocol.Now()})

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	_, ev, err = protocol.DecodeEnvelope(msg)
	require.NoError(t, err)
	ts, ok := ev.(protocol.TaskStatusEvent)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusSpec, ts.NewStatus)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "unsubscribe", "filters": map[string]string{"task_id": taskID}}))
	require.Eventually(t, func() bool { return f.bus.Count(taskID) == 0 }, time.Second, 5*time.Millisecond)
}

func dialAndSubscribe(t *testing.T, f *apiFixture, taskID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	subscribeWS(t, conn, "subscribe", taskID)
	return conn
}

func subscribeWS(t *testing.T, conn *websocket.Conn, msgType, taskID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": msgType, "filters": map[string]string{"task_id": taskID}}))
}

func readWSEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	_, ev, err := protocol.DecodeEnvelope(msg)
	require.NoError(t, err)
	return ev
}

func TestWebSocket_SubscriptionLifetimeTimeout(t *testing.T) {
	f := newAPIFixture(t, func(c *config.AppConfig) { c.Server.StreamLifetime = 50 * time.Millisecond })
	taskID := f.createTask()
	conn := dialAndSubscribe(t, f, taskID)

	assert.Equal(t, protocol.TypeConnected, readWSEvent(t, conn).EventType())

	ev := readWSEvent(t, conn)
	timeout, ok := ev.(protocol.TimeoutEvent)
	require.True(t, ok, "got %s", ev.EventType())
	assert.Equal(t, "Connection timed out. Reconnect if pipeline is still running.", timeout.Message)
	assert.Eventually(t, func() bool { return f.bus.Count(taskID) == 0 }, time.Second, 5*time.Millisecond)

	// the connection survives and can subscribe again
	subscribeWS(t, conn, "subscribe", taskID)
	assert.Equal(t, protocol.TypeConnected, readWSEvent(t, conn).EventType())
}

func TestWebSocket_UnsubscribeStopsLifetimeTimer(t *testing.T) {
	f := newAPIFixture(t, func(c *config.AppConfig) { c.Server.StreamLifetime = 100 * time.Millisecond })
	taskID := f.createTask()
	conn := dialAndSubscribe(t, f, taskID)

	assert.Equal(t, protocol.TypeConnected, readWSEvent(t, conn).EventType())
	subscribeWS(t, conn, "unsubscribe", taskID)
	require.Eventually(t, func() bool { return f.bus.Count(taskID) == 0 }, time.Second, 5*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, msg, err := conn.ReadMessage()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr, "unexpected message %s", msg)
	assert.True(t, netErr.Timeout())
}

func TestWebSocket_RequiresTaskFilter(t *testing.T) {
	f := newAPIFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "filters": map[string]string{}}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	_, _, err = protocol.DecodeEnvelope(msg)
	assert.ErrorContains(t, err, "filters.task_id is required")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	r, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "codeforge_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/tasks", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Anthropic-Key")
}
