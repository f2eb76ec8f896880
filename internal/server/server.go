// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/orchestrator"
	"github.com/noldarim/codeforge/internal/orchestrator/events"
	"github.com/noldarim/codeforge/internal/orchestrator/services"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the REST + SSE + WebSocket API server.
type Server struct {
	httpServer *http.Server
	bus        *events.Bus
}

// New creates and wires up the API server. It does NOT start listening;
// call Run() for that.
func New(cfg *config.ServerConfig, data *services.DataService, orch *orchestrator.Orchestrator, bus *events.Bus) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           NewRouter(cfg, data, orch, bus),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Streams re-arm their own write deadline per write.
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		bus: bus,
	}
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg *config.ServerConfig, data *services.DataService, orch *orchestrator.Orchestrator, bus *events.Bus) http.Handler {
	registry := NewClientRegistry(bus, cfg.StreamLifetime)
	handlers := NewHandlers(data, orch, bus, cfg.StreamLifetime)

	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Metrics)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(1 << 20))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks", handlers.ListTasks)
		r.Post("/tasks", handlers.CreateTask)

		r.Route("/tasks/{taskId}", func(r chi.Router) {
			r.Get("/", handlers.GetTask)

			r.Route("/pipeline", func(r chi.Router) {
				r.Post("/start", handlers.StartPipeline)
				r.Post("/cancel", handlers.CancelPipeline)
				r.Post("/retry", handlers.RetryPipeline)
				r.Post("/request-changes", handlers.RequestChanges)
				r.Post("/approve", handlers.ApprovePipeline)
				r.Get("/status", handlers.PipelineStatus)
				r.Get("/runs", handlers.PipelineRuns)
				r.Get("/events", handlers.StreamEvents)
			})
		})
	})

	r.Get("/ws", HandleWebSocket(registry, cfg.AllowedOrigins))
	r.Get("/healthz", handlers.Health)

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.Handler())

	return r
}

// Run starts the HTTP server and blocks until it stops. Cancelling ctx shuts
// it down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
		err := s.httpServer.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown closes every live subscription and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bus.Close()
	return s.httpServer.Shutdown(ctx)
}
