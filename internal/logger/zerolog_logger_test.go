// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/rs/zerolog"
)

func jsonFileConfig(path string) *config.LogConfig {
	return &config.LogConfig{
		Level:  "info",
		Format: "json",
		Output: []config.LogOutputConfig{
			{Type: "file", Enabled: true, Path: path},
		},
		Context: config.LogContextConfig{IncludeTimestamp: true},
	}
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name     string
		config   *config.LogConfig
		errorMsg string
	}{
		{
			name: "console_json",
			config: &config.LogConfig{
				Level:  "info",
				Format: "json",
				Output: []config.LogOutputConfig{{Type: "console", Enabled: true}},
			},
		},
		{
			name:   "plain_file",
			config: jsonFileConfig(filepath.Join(t.TempDir(), "plain.log")),
		},
		{
			name: "rotating_file_console_format",
			config: &config.LogConfig{
				Level:  "debug",
				Format: "console",
				Output: []config.LogOutputConfig{{
					Type:    "file",
					Enabled: true,
					Path:    filepath.Join(t.TempDir(), "nested", "rotating.log"),
					Rotate:  config.LogRotateConfig{MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 1},
				}},
			},
		},
		{
			name: "unknown_output_type",
			config: &config.LogConfig{
				Level:  "info",
				Format: "json",
				Output: []config.LogOutputConfig{{Type: "syslog", Enabled: true}},
			},
			errorMsg: "unsupported output type: syslog",
		},
		{
			name: "file_without_path",
			config: &config.LogConfig{
				Level:  "info",
				Format: "json",
				Output: []config.LogOutputConfig{{Type: "file", Enabled: true}},
			},
			errorMsg: "requires a path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.config)
			if tt.errorMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Fatalf("expected error containing %q, got %v", tt.errorMsg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer m.Close()
		})
	}
}

func TestManager_FallbackFile(t *testing.T) {
	dir := t.TempDir()
	orig, _ := os.Getwd()
	defer os.Chdir(orig)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(&config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Close()

	if _, err := os.Stat(filepath.Join(dir, "logs", "codeforge-fallback.log")); err != nil {
		t.Errorf("fallback log file was not created: %v", err)
	}
}

func TestManager_GetLogger_PackageField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.log")
	m, err := NewManager(jsonFileConfig(path))
	if err != nil {
		t.Fatal(err)
	}

	l := m.GetLogger("orchestrator")
	l.Info().Str("run_id", "r1").Msg("phase entered")
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["pkg"] != "orchestrator" {
		t.Errorf("expected pkg=orchestrator, got %v", entry["pkg"])
	}
	if entry["run_id"] != "r1" {
		t.Errorf("expected run_id=r1, got %v", entry["run_id"])
	}
}

func TestManager_PackageLevels(t *testing.T) {
	orig := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(orig)

	cfg := jsonFileConfig(filepath.Join(t.TempDir(), "levels.log"))
	cfg.Level = "trace"
	cfg.Levels = map[string]string{"events": "warn"}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if got := m.GetLogger("events").GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("events level = %v, want warn", got)
	}
	if got := m.GetLogger("api").GetLevel(); got != zerolog.TraceLevel {
		t.Errorf("api level = %v, want trace", got)
	}

	m.SetPackageLevel("events", "debug")
	if got := m.GetLogger("events").GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("events level after change = %v, want debug", got)
	}
}

func TestManager_ConcurrentGetLogger(t *testing.T) {
	m, err := NewManager(jsonFileConfig(filepath.Join(t.TempDir(), "race.log")))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := m.GetLogger([]string{"agents", "events", "database"}[i%3])
			l.Debug().Int("i", i).Msg("concurrent")
		}(i)
	}
	wg.Wait()

	if n := len(m.packageLoggers); n != 3 {
		t.Errorf("expected 3 cached package loggers, got %d", n)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"Error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGetLogger_Uninitialized(t *testing.T) {
	saved := globalManager
	globalManager = nil
	defer func() { globalManager = saved }()

	// must not panic or write anywhere
	orchLog := GetOrchestratorLogger()
	orchLog.Info().Msg("discarded")
	agentsLog := GetAgentsLogger()
	agentsLog.Info().Msg("discarded")

	if err := CloseGlobal(); err != nil {
		t.Errorf("CloseGlobal on nil manager: %v", err)
	}
}
