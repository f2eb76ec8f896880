// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels.
// They keep logger names consistent across the codebase.

// GetOrchestratorLogger returns a logger for the pipeline orchestrator
func GetOrchestratorLogger() zerolog.Logger {
	return GetLogger("orchestrator")
}

// GetAgentsLogger returns a logger for agent runner and adapters
func GetAgentsLogger() zerolog.Logger {
	return GetLogger("agents")
}

// GetEventsLogger returns a logger for the event bus
func GetEventsLogger() zerolog.Logger {
	return GetLogger("events")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetCLILogger returns a logger for the operator CLI and TUI
func GetCLILogger() zerolog.Logger {
	return GetLogger("cli")
}
