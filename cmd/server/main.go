// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noldarim/codeforge/internal/app"
	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/server"
	"github.com/noldarim/codeforge/internal/telemetry"
)

var version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Str("version", version).Msg("Starting codeforge API server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error starting telemetry")
		fmt.Fprintf(os.Stderr, "Error starting telemetry: %v\n", err)
		os.Exit(1)
	}
	tp.Install()

	a, err := app.New(cfg)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error creating pipeline stack")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Runs left running by a previous process cannot resume.
	if err := a.Recover(ctx); err != nil {
		mainLog.Error().Err(err).Msg("Error recovering interrupted runs")
	}

	srv := server.New(&cfg.Server, a.Data, a.Orchestrator, a.Bus)
	if err := srv.Run(ctx); err != nil {
		mainLog.Error().Err(err).Msg("Server error")
	}

	mainLog.Info().Msg("Shutting down orchestrator...")
	if err := a.Close(); err != nil {
		mainLog.Error().Err(err).Msg("Error closing pipeline stack")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		mainLog.Warn().Err(err).Msg("Error flushing traces")
	}

	mainLog.Info().Msg("API server shut down")
}
