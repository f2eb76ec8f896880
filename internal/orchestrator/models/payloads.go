// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Limits shared by the output parser and the store boundary.
const (
	MaxSubtasks      = 10
	MaxSubtaskTitle  = 200
	MaxReviewScore   = 100
	MinFeedbackChars = 10
	MaxFeedbackChars = 5000
)

// Subtask is one planner-produced unit of work.
type Subtask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// SubtaskList is the planner's output document.
type SubtaskList struct {
	Subtasks Subtasks `json:"subtasks"`
}

// Validate checks the planner document.
func (l SubtaskList) Validate() error {
	if len(l.Subtasks) == 0 {
		return errors.New("subtasks: at least one entry is required")
	}
	return l.Subtasks.Validate()
}

// Subtasks is stored as a JSON column on the task.
type Subtasks []Subtask

// Validate checks entry fields and that orders run 1..n.
func (s Subtasks) Validate() error {
	if len(s) > MaxSubtasks {
		return fmt.Errorf("subtasks: at most %d entries, got %d", MaxSubtasks, len(s))
	}
	orders := make([]int, 0, len(s))
	for i, st := range s {
		switch {
		case strings.TrimSpace(st.ID) == "":
			return fmt.Errorf("subtasks[%d].id: must not be empty", i)
		case st.Title == "":
			return fmt.Errorf("subtasks[%d].title: must not be empty", i)
		case utf8.RuneCountInString(st.Title) > MaxSubtaskTitle:
			return fmt.Errorf("subtasks[%d].title: longer than %d characters", i, MaxSubtaskTitle)
		case st.Description == "":
			return fmt.Errorf("subtasks[%d].description: must not be empty", i)
		case st.Order < 1:
			return fmt.Errorf("subtasks[%d].order: must be a positive integer", i)
		}
		orders = append(orders, st.Order)
	}
	sort.Ints(orders)
	for i, o := range orders {
		if o != i+1 {
			return fmt.Errorf("subtasks: orders must be sequential from 1, got %v", orders)
		}
	}
	return nil
}

// Scan implements the sql.Scanner interface
func (s *Subtasks) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	var v Subtasks
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode subtasks column: %w", err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid subtasks column: %w", err)
	}
	*s = v
	return nil
}

// Value implements the driver.Valuer interface
func (s Subtasks) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// FileAction is what the coder wants done with a file.
type FileAction string

const (
	ActionCreate FileAction = "create"
	ActionModify FileAction = "modify"
	ActionDelete FileAction = "delete"
)

// Valid reports whether a is a known action.
func (a FileAction) Valid() bool {
	return a == ActionCreate || a == ActionModify || a == ActionDelete
}

// FileChange is one proposed edit with the file's full new content.
type FileChange struct {
	FilePath string     `json:"filePath"`
	Language string     `json:"language"`
	Content  string     `json:"content"`
	Action   FileAction `json:"action"`
}

// FileChangeSet is the coder's output document.
type FileChangeSet struct {
	Files FileChanges `json:"files"`
}

// Validate checks the coder document.
func (s FileChangeSet) Validate() error {
	if s.Files == nil {
		return errors.New("files: required")
	}
	return s.Files.Validate()
}

// FileChanges is the run's latest change set. A nil slice means the coder has
// not produced one yet and is stored as NULL.
type FileChanges []FileChange

// Validate checks every entry.
func (fc FileChanges) Validate() error {
	for i, f := range fc {
		switch {
		case strings.TrimSpace(f.FilePath) == "":
			return fmt.Errorf("files[%d].filePath: must not be empty", i)
		case strings.TrimSpace(f.Language) == "":
			return fmt.Errorf("files[%d].language: must not be empty", i)
		case !f.Action.Valid():
			return fmt.Errorf("files[%d].action: unknown action %q", i, f.Action)
		case f.Content == "" && f.Action != ActionDelete:
			return fmt.Errorf("files[%d].content: may only be empty for delete", i)
		}
	}
	return nil
}

// Scan implements the sql.Scanner interface
func (fc *FileChanges) Scan(value any) error {
	if value == nil {
		*fc = nil
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	v := FileChanges{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode file changes column: %w", err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid file changes column: %w", err)
	}
	*fc = v
	return nil
}

// Value implements the driver.Valuer interface
func (fc FileChanges) Value() (driver.Value, error) {
	if fc == nil {
		return nil, nil
	}
	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to store invalid file changes: %w", err)
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Severity grades a review finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityError || s == SeverityWarning || s == SeverityInfo
}

// Finding is one reviewer-reported issue. Line 0 means the whole file.
type Finding struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
}

// ReviewResult is the reviewer's verdict.
type ReviewResult struct {
	Passed   bool      `json:"passed"`
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
}

// Validate checks the score range and every finding.
func (r ReviewResult) Validate() error {
	if r.Score < 0 || r.Score > MaxReviewScore {
		return fmt.Errorf("score: must be within 0..%d, got %d", MaxReviewScore, r.Score)
	}
	if r.Findings == nil {
		return errors.New("findings: required")
	}
	for i, f := range r.Findings {
		switch {
		case !f.Severity.Valid():
			return fmt.Errorf("findings[%d].severity: unknown severity %q", i, f.Severity)
		case strings.TrimSpace(f.File) == "":
			return fmt.Errorf("findings[%d].file: must not be empty", i)
		case f.Line < 0:
			return fmt.Errorf("findings[%d].line: must not be negative", i)
		case f.Message == "":
			return fmt.Errorf("findings[%d].message: must not be empty", i)
		}
	}
	return nil
}

// HasErrors reports whether any finding has error severity.
func (r ReviewResult) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ErrorType classifies a run failure for operators.
type ErrorType string

const (
	ErrorTypeAPI     ErrorType = "api_error"
	ErrorTypeParse   ErrorType = "parse_error"
	ErrorTypeTimeout ErrorType = "timeout"
	ErrorTypeUnknown ErrorType = "unknown"
)

// ErrorDetails describes why a run is paused or failed.
type ErrorDetails struct {
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	StatusCode  *int      `json:"statusCode,omitempty"`
	FailedAgent AgentRole `json:"failedAgent,omitempty"`
	FailedPhase Phase     `json:"failedPhase,omitempty"`
	RetryCount  int       `json:"retryCount"`
	MaxRetries  int       `json:"maxRetries"`
	Timestamp   int64     `json:"timestamp"`
}

// Validate checks the error classification and counters.
func (e ErrorDetails) Validate() error {
	switch e.Type {
	case ErrorTypeAPI, ErrorTypeParse, ErrorTypeTimeout, ErrorTypeUnknown:
	default:
		return fmt.Errorf("type: unknown error type %q", e.Type)
	}
	if e.RetryCount < 0 || e.MaxRetries < 0 {
		return errors.New("retry counters must not be negative")
	}
	return nil
}

// Retryable reports whether another operator retry is allowed.
func (e ErrorDetails) Retryable() bool {
	return e.RetryCount < e.MaxRetries
}

// AgentLogs keeps every streamed chunk per agent role for hydration.
type AgentLogs struct {
	Planner  []string `json:"planner"`
	Coder    []string `json:"coder"`
	Reviewer []string `json:"reviewer"`
}

// NewAgentLogs returns logs with empty, non-nil slices.
func NewAgentLogs() AgentLogs {
	return AgentLogs{Planner: []string{}, Coder: []string{}, Reviewer: []string{}}
}

// For returns the chunk list of a role.
func (l AgentLogs) For(role AgentRole) []string {
	switch role {
	case RolePlanner:
		return l.Planner
	case RoleCoder:
		return l.Coder
	case RoleReviewer:
		return l.Reviewer
	}
	return nil
}

// Append adds chunks to a role's log.
func (l *AgentLogs) Append(role AgentRole, chunks ...string) {
	switch role {
	case RolePlanner:
		l.Planner = append(l.Planner, chunks...)
	case RoleCoder:
		l.Coder = append(l.Coder, chunks...)
	case RoleReviewer:
		l.Reviewer = append(l.Reviewer, chunks...)
	}
}

// Counts returns the number of chunks per role.
func (l AgentLogs) Counts() map[AgentRole]int {
	return map[AgentRole]int{
		RolePlanner:  len(l.Planner),
		RoleCoder:    len(l.Coder),
		RoleReviewer: len(l.Reviewer),
	}
}

// Scan implements the sql.Scanner interface
func (l *AgentLogs) Scan(value any) error {
	*l = NewAgentLogs()
	if value == nil {
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, l); err != nil {
		return fmt.Errorf("decode agent logs column: %w", err)
	}
	l.normalize()
	return nil
}

// Value implements the driver.Valuer interface
func (l AgentLogs) Value() (driver.Value, error) {
	l.normalize()
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *AgentLogs) normalize() {
	if l.Planner == nil {
		l.Planner = []string{}
	}
	if l.Coder == nil {
		l.Coder = []string{}
	}
	if l.Reviewer == nil {
		l.Reviewer = []string{}
	}
}
