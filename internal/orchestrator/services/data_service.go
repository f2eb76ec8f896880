// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/logger"
	"github.com/noldarim/codeforge/internal/orchestrator/database"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/samber/lo"

	"github.com/rs/zerolog"
)

// MaxTitleChars bounds a task title.
const MaxTitleChars = 200

var (
	dataLog     *zerolog.Logger
	dataLogOnce sync.Once
)

func getDataLog() *zerolog.Logger {
	dataLogOnce.Do(func() {
		l := logger.GetDatabaseLogger().With().Str("component", "service").Logger()
		dataLog = &l
	})
	return dataLog
}

// ValidationError reports an invalid field in a task request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrTaskNotFound is returned when a task does not exist.
var ErrTaskNotFound = database.ErrNotFound

// NewTask is the input for CreateTask.
type NewTask struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    models.TaskCategory `json:"category"`
}

// Validate checks title length, description and category.
func (n NewTask) Validate() error {
	title := strings.TrimSpace(n.Title)
	switch {
	case title == "":
		return &ValidationError{Field: "title", Message: "must not be empty"}
	case utf8.RuneCountInString(title) > MaxTitleChars:
		return &ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", MaxTitleChars)}
	case strings.TrimSpace(n.Description) == "":
		return &ValidationError{Field: "description", Message: "must not be empty"}
	case !n.Category.Valid():
		names := lo.Map(models.TaskCategories, func(c models.TaskCategory, _ int) string { return string(c) })
		return &ValidationError{Field: "category", Message: fmt.Sprintf("must be one of %s", strings.Join(names, ", "))}
	}
	return nil
}

// DataService owns the database connection and the task board operations.
type DataService struct {
	db *database.GormDB
}

// NewDataService opens the configured database and checks its schema.
func NewDataService(cfg *config.AppConfig) (*DataService, error) {
	getDataLog().Debug().Str("driver", cfg.Database.Driver).Msg("Initializing data service")

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		getDataLog().Error().Err(err).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.ValidateSchema(); err != nil {
		db.Close()
		getDataLog().Error().Err(err).Msg("Database schema validation failed")
		return nil, fmt.Errorf("database schema validation failed: %w", err)
	}

	getDataLog().Info().Msg("Data service initialized successfully")
	return &DataService{db: db}, nil
}

// NewDataServiceWithDB wraps an already opened database.
func NewDataServiceWithDB(db *database.GormDB) *DataService {
	return &DataService{db: db}
}

// Store exposes the underlying store to the orchestrator.
func (ds *DataService) Store() *database.GormDB {
	return ds.db
}

// CreateTask validates and stores a new backlog task.
func (ds *DataService) CreateTask(ctx context.Context, in NewTask) (*models.Task, error) {
	if in.Category == "" {
		in.Category = models.CategoryFeature
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Category:    in.Category,
		Status:      models.TaskStatusBacklog,
	}
	if err := ds.db.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	getDataLog().Info().Str("task_id", task.ID).Str("category", string(task.Category)).Msg("Task created")
	return task, nil
}

// GetTask gets a task by ID.
func (ds *DataService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return ds.db.GetTask(ctx, taskID)
}

// ListTasks returns tasks, optionally only those in one of the given statuses.
func (ds *DataService) ListTasks(ctx context.Context, statuses ...models.TaskStatus) ([]*models.Task, error) {
	tasks, err := ds.db.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(statuses) == 0 {
		return tasks, nil
	}
	return lo.Filter(tasks, func(t *models.Task, _ int) bool {
		return lo.Contains(statuses, t.Status)
	}), nil
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}

// Close closes the database connection.
func (ds *DataService) Close() error {
	return ds.db.Close()
}
