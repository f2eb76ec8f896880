// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipelinesummary

import (
	"fmt"
	"testing"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/stretchr/testify/assert"
)

func TestView_Passed(t *testing.T) {
	out := New().SetData(SummaryData{
		RunID:     "run-1",
		Status:    models.RunStatusPassed,
		Duration:  83 * time.Second,
		Iteration: 1,
		Files: models.FileChanges{
			{FilePath: "greet/greet.go", Action: models.ActionCreate},
			{FilePath: "main.go", Action: models.ActionModify},
		},
		Review: &models.ReviewResult{Passed: true, Score: 88, Findings: []models.Finding{
			{Severity: models.SeverityInfo, File: "greet/greet.go", Line: 6, Message: "Handle empty names"},
		}},
	}).View()

	assert.Contains(t, out, "Passed")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "1m 23s")
	assert.Contains(t, out, "Review cycles: 2")
	assert.Contains(t, out, "88/100")
	assert.Contains(t, out, "Files (2):")
	assert.Contains(t, out, "greet/greet.go:6")
	assert.NotContains(t, out, "Error")
}

func TestView_PausedShowsErrorAndRetries(t *testing.T) {
	out := New().SetData(SummaryData{
		Status: models.RunStatusPaused,
		ErrorDetails: &models.ErrorDetails{
			Type: models.ErrorTypeAPI, Message: "rate limited", FailedAgent: models.RoleCoder,
			RetryCount: 1, MaxRetries: 3,
		},
	}).View()

	assert.Contains(t, out, "Paused")
	assert.Contains(t, out, "Error (api_error): rate limited [coder agent]")
	assert.Contains(t, out, "Retries used: 1/3")
}

func TestView_TruncatesFindings(t *testing.T) {
	var findings []models.Finding
	for i := 0; i < maxFindings+3; i++ {
		findings = append(findings, models.Finding{Severity: models.SeverityWarning, File: "a.go", Message: fmt.Sprintf("issue %d", i)})
	}
	out := New().SetData(SummaryData{Status: models.RunStatusFailed, Review: &models.ReviewResult{Score: 40, Findings: findings}}).View()

	assert.Contains(t, out, "and 3 more")
	assert.NotContains(t, out, fmt.Sprintf("issue %d", maxFindings))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h 0m 1s", FormatDuration(time.Hour+time.Second))
}
