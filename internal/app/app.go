// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app assembles the pipeline stack shared by the API server and the
// operator CLI: store, agents, event bus and orchestrator.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/orchestrator"
	"github.com/noldarim/codeforge/internal/orchestrator/agents"
	"github.com/noldarim/codeforge/internal/orchestrator/agents/prompts"
	"github.com/noldarim/codeforge/internal/orchestrator/events"
	"github.com/noldarim/codeforge/internal/orchestrator/services"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetLogger("app")
		log = &l
	})
	return log
}

// App is a fully wired pipeline stack.
type App struct {
	Config       *config.AppConfig
	Data         *services.DataService
	Bus          *events.Bus
	Orchestrator *orchestrator.Orchestrator

	ownsData  bool
	closeOnce sync.Once
}

// Option customises assembly.
type Option func(*options)

type options struct {
	provider agents.Provider
	data     *services.DataService
}

// WithProvider overrides the provider chosen by llm.provider.
func WithProvider(p agents.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithDataService reuses an open data service instead of opening the
// configured database.
func WithDataService(ds *services.DataService) Option {
	return func(o *options) { o.data = ds }
}

// LoadPrompts returns the prompt library from dir, or the built-in one when
// dir is empty.
func LoadPrompts(dir string) (*prompts.Library, error) {
	if dir == "" {
		return prompts.Default()
	}
	return prompts.Load(dir)
}

// New opens the store and wires the orchestrator.
func New(cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	provider := o.provider
	if provider == nil {
		p, err := agents.NewProvider(cfg.LLM.Provider, cfg.LLM)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	lib, err := LoadPrompts(cfg.Pipeline.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	settings := agents.SettingsFromConfig(cfg.Agents, cfg.Pipeline)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent settings: %w", err)
	}

	data := o.data
	if data == nil {
		data, err = services.NewDataService(cfg)
		if err != nil {
			return nil, err
		}
	}

	bus := events.NewBus(cfg.Server.Keepalive)
	adapters := agents.NewAdapters(agents.NewRunner(provider, cfg.LLM.RequestTimeout), lib, settings)
	orch, err := orchestrator.New(orchestrator.Deps{
		Store:  data.Store(),
		Agents: adapters,
		Events: bus,
	}, cfg.Pipeline)
	if err != nil {
		bus.Close()
		if o.data == nil {
			data.Close()
		}
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	getLog().Info().
		Str("provider", fmt.Sprintf("%T", provider)).
		Int("max_iterations", cfg.Pipeline.MaxIterations).
		Int("pass_threshold", cfg.Pipeline.PassThreshold).
		Msg("Pipeline stack ready")

	return &App{Config: cfg, Data: data, Bus: bus, Orchestrator: orch, ownsData: o.data == nil}, nil
}

// Recover pauses runs orphaned by a previous process.
func (a *App) Recover(ctx context.Context) error {
	n, err := a.Orchestrator.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		getLog().Warn().Int("runs", n).Msg("Recovered interrupted runs as paused")
	}
	return nil
}

// Close stops runs and closes every subscriber. The store is released only
// when New opened it.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Orchestrator.Close()
		a.Bus.Close()
		if a.ownsData {
			err = a.Data.Close()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
