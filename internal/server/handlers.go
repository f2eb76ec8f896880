// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator"
	"github.com/noldarim/codeforge/internal/orchestrator/events"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/orchestrator/services"

	"github.com/go-chi/chi/v5"
)

// APIKeyHeader carries the caller's provider credential. It is never stored.
const APIKeyHeader = "X-Anthropic-Key"

const defaultStreamLifetime = 10 * time.Minute

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	data           *services.DataService
	orch           *orchestrator.Orchestrator
	bus            *events.Bus
	streamLifetime time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(data *services.DataService, orch *orchestrator.Orchestrator, bus *events.Bus, streamLifetime time.Duration) *Handlers {
	if streamLifetime <= 0 {
		streamLifetime = defaultStreamLifetime
	}
	return &Handlers{data: data, orch: orch, bus: bus, streamLifetime: streamLifetime}
}

// --- helpers ---

type errorResponse struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps known error types to a status and a displayable message.
// Anything else is a 500 with fallback as the message.
func writeError(w http.ResponseWriter, err error, fallback string) {
	var ce *orchestrator.ControlError
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, ce.HTTPStatus(), errorResponse{Error: ce.Message, Context: string(ce.Kind)})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid task", Context: ve.Error()})
	case services.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found", Context: err.Error()})
	default:
		getLog().Error().Err(err).Msg(fallback)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fallback, Context: err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Context: err.Error()})
		return false
	}
	return true
}

func apiKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Missing API key",
			Context: "Set the " + strings.ToLower(APIKeyHeader) + " header",
		})
		return "", false
	}
	return key, true
}

// --- tasks ---

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []models.TaskStatus
	if s := r.URL.Query().Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			statuses = append(statuses, models.TaskStatus(strings.TrimSpace(part)))
		}
	}
	tasks, err := h.data.ListTasks(r.Context(), statuses...)
	if err != nil {
		writeError(w, err, "Failed to load tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var body services.NewTask
	if !decodeBody(w, r, &body) {
		return
	}
	task, err := h.data.CreateTask(r.Context(), body)
	if err != nil {
		writeError(w, err, "Failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/v1/tasks/{taskId}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.data.GetTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, err, "Failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- pipeline control ---

type runRequest struct {
	RunID string `json:"runId"`
}

type changesRequest struct {
	RunID    string `json:"runId"`
	Feedback string `json:"feedback"`
}

type runResponse struct {
	RunID string `json:"runId"`
}

type retryResponse struct {
	RunID      string `json:"runId"`
	RetryDelay int64  `json:"retryDelay"` // milliseconds
}

type cancelResponse struct {
	RunID  string           `json:"runId"`
	Status models.RunStatus `json:"status"`
}

type approveResponse struct {
	TaskID string            `json:"taskId"`
	Status models.TaskStatus `json:"status"`
}

// StartPipeline handles POST /api/v1/tasks/{taskId}/pipeline/start
func (h *Handlers) StartPipeline(w http.ResponseWriter, r *http.Request) {
	key, ok := apiKey(w, r)
	if !ok {
		return
	}
	runID, err := h.orch.Start(r.Context(), chi.URLParam(r, "taskId"), key)
	if err != nil {
		writeError(w, err, "Failed to start pipeline")
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID})
}

// CancelPipeline handles POST /api/v1/tasks/{taskId}/pipeline/cancel
func (h *Handlers) CancelPipeline(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := h.orch.Cancel(r.Context(), chi.URLParam(r, "taskId"), body.RunID)
	if err != nil {
		writeError(w, err, "Failed to cancel pipeline")
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{RunID: res.RunID, Status: res.Status})
}

// RetryPipeline handles POST /api/v1/tasks/{taskId}/pipeline/retry
func (h *Handlers) RetryPipeline(w http.ResponseWriter, r *http.Request) {
	key, ok := apiKey(w, r)
	if !ok {
		return
	}
	var body runRequest
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := h.orch.Retry(r.Context(), chi.URLParam(r, "taskId"), body.RunID, key)
	if err != nil {
		writeError(w, err, "Failed to retry pipeline")
		return
	}
	writeJSON(w, http.StatusAccepted, retryResponse{RunID: res.RunID, RetryDelay: res.Delay.Milliseconds()})
}

// RequestChanges handles POST /api/v1/tasks/{taskId}/pipeline/request-changes
func (h *Handlers) RequestChanges(w http.ResponseWriter, r *http.Request) {
	key, ok := apiKey(w, r)
	if !ok {
		return
	}
	var body changesRequest
	if !decodeBody(w, r, &body) {
		return
	}
	runID, err := h.orch.RequestChanges(r.Context(), chi.URLParam(r, "taskId"), body.RunID, body.Feedback, key)
	if err != nil {
		writeError(w, err, "Failed to request changes")
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID})
}

// ApprovePipeline handles POST /api/v1/tasks/{taskId}/pipeline/approve
func (h *Handlers) ApprovePipeline(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := h.orch.Approve(r.Context(), chi.URLParam(r, "taskId"), body.RunID)
	if err != nil {
		writeError(w, err, "Failed to approve pipeline")
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{TaskID: res.TaskID, Status: res.Status})
}

// PipelineStatus handles GET /api/v1/tasks/{taskId}/pipeline/status. It
// answers null when the task has never run.
func (h *Handlers) PipelineStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := h.orch.Status(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, err, "Failed to load pipeline status")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// PipelineRuns handles GET /api/v1/tasks/{taskId}/pipeline/runs
func (h *Handlers) PipelineRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.orch.Runs(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, err, "Failed to load pipeline runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.data.ListTasks(r.Context(), models.TaskStatusDone); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Database unavailable", Context: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
