// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Pipeline.MaxIterations)
	assert.Equal(t, 70, cfg.Pipeline.PassThreshold)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, time.Second, cfg.Pipeline.RetryBaseDelay)
	assert.Equal(t, 10*time.Minute, cfg.Server.StreamLifetime)
	assert.Equal(t, 8192, cfg.Agents.Coder.MaxTokens)
}

func TestNewConfig_ReadsFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  stream_lifetime: 2m
  allowed_origins: "http://a.test,http://b.test"
llm:
  provider: demo
pipeline:
  max_iterations: 5
  retry_base_delay: 250ms
`)

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.StreamLifetime)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "demo", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Pipeline.MaxIterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.RetryBaseDelay)
	// Untouched sections keep their defaults.
	assert.Equal(t, 70, cfg.Pipeline.PassThreshold)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Agents.Planner.Model)
}

func TestNewConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  pass_threshold: 60\n")
	t.Setenv("CODEFORGE_PIPELINE_PASS_THRESHOLD", "85")

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 85, cfg.Pipeline.PassThreshold)
}

func TestNewConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestNewConfig_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"iterations", "pipeline:\n  max_iterations: 0\n", "max_iterations"},
		{"threshold", "pipeline:\n  pass_threshold: 101\n", "pass_threshold"},
		{"retries", "pipeline:\n  max_retries: -1\n", "max_retries"},
		{"provider", "llm:\n  provider: openai\n", "invalid llm provider"},
		{"port", "server:\n  port: 70000\n", "invalid server port"},
		{"log level", "log:\n  level: LOUD\n", "invalid log level"},
		{"model", "agents:\n  coder:\n    model: \"\"\n", "agents.coder.model"},
		{"telemetry", "telemetry:\n  enabled: true\n  endpoint: \"\"\n", "telemetry.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("CODEFORGE_TEST_DIR", "/srv/prompts")

	assert.Equal(t, filepath.Join(home, "prompts"), expandPath("~/prompts"))
	assert.Equal(t, "/srv/prompts/x", expandPath("$CODEFORGE_TEST_DIR/x"))
	assert.Empty(t, expandPath(""))
}

func TestGetDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	assert.Equal(t, "file::memory:?cache=shared", sqlite.GetDSN())

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, Username: "u", Password: "p", Database: "cf", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=cf sslmode=disable", pg.GetDSN())
}
