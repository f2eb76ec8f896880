// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/noldarim/codeforge/internal/config"
	internallogger "github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/rs/zerolog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a task or run does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrActiveRunExists is returned when a task already has a running or paused run.
	ErrActiveRunExists = errors.New("task already has an active pipeline run")
	// ErrStaleRun is returned when a guarded run update matched no row because
	// the run moved on (for example it was cancelled concurrently).
	ErrStaleRun = errors.New("pipeline run is no longer in the expected status")
	// ErrStaleTask is returned when a guarded task update matched no row.
	ErrStaleTask = errors.New("task is no longer in the expected status")
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := internallogger.GetDatabaseLogger().With().Str("component", "gorm").Logger()
		log = &l
	})
	return log
}

// GormDB wraps the GORM database connection
type GormDB struct {
	db *gorm.DB
}

// NewGormDB creates a new GORM database connection
func NewGormDB(cfg *config.DatabaseConfig) (*GormDB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows one writer; serialize through a single connection so
		// concurrent runs queue instead of failing with "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	getLog().Debug().Str("driver", cfg.Driver).Msg("Database connection opened")
	return &GormDB{db: db}, nil
}

// AutoMigrate runs database migrations
func (db *GormDB) AutoMigrate() error {
	return db.db.AutoMigrate(
		&models.Task{},
		&models.PipelineRun{},
	)
}

// ValidateSchema checks if GORM models match the database schema
func (db *GormDB) ValidateSchema() error {
	var missing []string

	required := []struct {
		model   any
		table   string
		columns []string
	}{
		{&models.Task{}, "tasks", []string{
			"id", "title", "description", "category", "status", "subtasks", "created_at", "updated_at",
		}},
		{&models.PipelineRun{}, "pipeline_runs", []string{
			"id", "task_id", "phase", "status", "iteration", "retry_count", "agent_logs", "file_changes",
			"review_findings", "error_details", "started_at", "completed_at",
		}},
	}

	m := db.db.Migrator()
	for _, r := range required {
		if !m.HasTable(r.model) {
			missing = append(missing, r.table)
			continue
		}
		for _, col := range r.columns {
			if !m.HasColumn(r.model, col) {
				missing = append(missing, r.table+"."+col)
			}
		}
	}

	if !m.HasIndex(&models.PipelineRun{}, "idx_pipeline_runs_task_status") {
		missing = append(missing, "pipeline_runs.idx_pipeline_runs_task_status")
	}

	if len(missing) > 0 {
		return fmt.Errorf("schema is missing: %s (run the migrate command)", strings.Join(missing, ", "))
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}
