// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DatabaseConfig holds all database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
	StreamLifetime time.Duration `mapstructure:"stream_lifetime"` // Max lifetime of one SSE subscription
	Keepalive      time.Duration `mapstructure:"keepalive"`       // Keepalive interval per subscriber
	MetricsPath    string        `mapstructure:"metrics_path"`
}

// LLMConfig holds settings for the completion provider. Credentials are
// never part of the config: they arrive per request.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"` // "anthropic" or "demo"
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// AgentConfig is the model and output budget for one agent role.
type AgentConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// AgentsConfig holds per-role agent settings.
type AgentsConfig struct {
	Planner  AgentConfig `mapstructure:"planner"`
	Coder    AgentConfig `mapstructure:"coder"`
	Reviewer AgentConfig `mapstructure:"reviewer"`
}

// PipelineConfig holds the orchestration policy.
type PipelineConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`   // Fix/review cycle cap
	PassThreshold  int           `mapstructure:"pass_threshold"`   // Minimum review score to pass
	MaxRetries     int           `mapstructure:"max_retries"`      // Operator retries per paused run lineage
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"` // Backoff base, doubled per retry
	PromptsDir     string        `mapstructure:"prompts_dir"`      // Optional override for prompts.yaml
}

// TelemetryConfig holds OpenTelemetry tracing configuration.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	// Set config file if provided, otherwise search in standard locations
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/codeforge/")
		v.AddConfigPath("$HOME/.codeforge")
	}

	v.SetEnvPrefix("CODEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *AppConfig {
	cfg := defaultConfig()
	return &cfg
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Database: "codeforge.db",
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/codeforge.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: false, // Disabled by default for TUI
				},
			},
			Levels: map[string]string{
				"orchestrator": "INFO",
				"agents":       "INFO",
				"events":       "WARN",
				"database":     "INFO",
				"api":          "INFO",
				"cli":          "WARN",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			StreamLifetime: 10 * time.Minute,
			Keepalive:      30 * time.Second,
			MetricsPath:    "/metrics",
		},
		LLM: LLMConfig{
			Provider:          "anthropic",
			RequestsPerSecond: 2,
			Burst:             4,
			RequestTimeout:    5 * time.Minute,
		},
		Agents: AgentsConfig{
			Planner:  AgentConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 4096},
			Coder:    AgentConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 8192},
			Reviewer: AgentConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 4096},
		},
		Pipeline: PipelineConfig{
			MaxIterations:  3,
			PassThreshold:  70,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			Insecure:    true,
			ServiceName: "codeforge",
			SampleRate:  1.0,
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.Pipeline.PromptsDir != "" {
		c.Pipeline.PromptsDir = expandPath(c.Pipeline.PromptsDir)
	}
	for i := range c.Log.Output {
		if c.Log.Output[i].Path != "" {
			c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
		}
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.StreamLifetime <= 0 {
		return errors.New("server.stream_lifetime must be positive")
	}
	if c.Server.Keepalive <= 0 {
		return errors.New("server.keepalive must be positive")
	}

	switch c.LLM.Provider {
	case "anthropic", "demo":
	default:
		return fmt.Errorf("invalid llm provider: %s (must be anthropic or demo)", c.LLM.Provider)
	}
	if c.LLM.RequestsPerSecond <= 0 {
		return errors.New("llm.requests_per_second must be positive")
	}
	if c.LLM.Burst < 1 {
		return errors.New("llm.burst must be at least 1")
	}

	roles := map[string]AgentConfig{
		"planner":  c.Agents.Planner,
		"coder":    c.Agents.Coder,
		"reviewer": c.Agents.Reviewer,
	}
	for role, a := range roles {
		if a.Model == "" {
			return fmt.Errorf("agents.%s.model is required", role)
		}
		if a.MaxTokens <= 0 {
			return fmt.Errorf("agents.%s.max_tokens must be positive", role)
		}
	}

	if c.Pipeline.MaxIterations < 1 {
		return errors.New("pipeline.max_iterations must be at least 1")
	}
	if c.Pipeline.PassThreshold < 0 || c.Pipeline.PassThreshold > 100 {
		return fmt.Errorf("pipeline.pass_threshold must be within 0..100, got: %d", c.Pipeline.PassThreshold)
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must not be negative")
	}
	if c.Pipeline.RetryBaseDelay < 0 {
		return errors.New("pipeline.retry_base_delay must not be negative")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}

// GetDSN returns the database connection string.
func (dc *DatabaseConfig) GetDSN() string {
	switch dc.Driver {
	case "sqlite":
		dsn := dc.Database
		if dsn == ":memory:" {
			dsn = "file::memory:?cache=shared"
		}
		return dsn
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.Database, dc.SSLMode)
	default:
		return dc.Database
	}
}
