// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipelinesummary

import (
	"fmt"
	"strings"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// maxFindings caps the findings listed before "and N more".
const maxFindings = 8

// SummaryData holds everything printed once a run stops.
type SummaryData struct {
	RunID        string
	Status       models.RunStatus
	Duration     time.Duration
	Iteration    int
	Files        models.FileChanges
	Review       *models.ReviewResult
	ErrorDetails *models.ErrorDetails
}

// Model represents the pipeline summary component
type Model struct {
	data SummaryData
}

// New creates a new pipeline summary model
func New() Model {
	return Model{}
}

// SetData updates the summary data
func (m Model) SetData(data SummaryData) Model {
	m.data = data
	return m
}

// Data returns the current summary.
func (m Model) Data() SummaryData {
	return m.data
}

// View renders the pipeline summary
func (m Model) View() string {
	d := m.data
	label := layout.LabelStyle
	value := layout.ValueStyle

	lines := []string{layout.StatusBadge(d.Status)}

	if d.RunID != "" {
		lines = append(lines, fmt.Sprintf("%s %s", label.Render("Run:"), layout.DimStyle.Render(d.RunID)))
	}
	if d.Duration > 0 {
		lines = append(lines, fmt.Sprintf("%s %s", label.Render("Duration:"), value.Render(FormatDuration(d.Duration))))
	}
	lines = append(lines, fmt.Sprintf("%s %s", label.Render("Review cycles:"), value.Render(fmt.Sprintf("%d", d.Iteration+1))))

	if d.Review != nil {
		score := fmt.Sprintf("%d/%d", d.Review.Score, models.MaxReviewScore)
		style := layout.SuccessStyle
		if !d.Review.Passed || d.Status == models.RunStatusFailed {
			style = layout.ErrorStyle
		}
		lines = append(lines, fmt.Sprintf("%s %s", label.Render("Score:"), style.Render(score)))
	}

	if len(d.Files) > 0 {
		lines = append(lines, label.Render(fmt.Sprintf("Files (%d):", len(d.Files))))
		for _, f := range d.Files {
			lines = append(lines, fmt.Sprintf("  %s %s", actionSymbol(f.Action), value.Render(f.FilePath)))
		}
	}

	if d.Review != nil && len(d.Review.Findings) > 0 {
		lines = append(lines, label.Render(fmt.Sprintf("Findings (%d):", len(d.Review.Findings))))
		for i, f := range d.Review.Findings {
			if i == maxFindings {
				lines = append(lines, layout.DimStyle.Render(fmt.Sprintf("  and %d more", len(d.Review.Findings)-maxFindings)))
				break
			}
			lines = append(lines, "  "+renderFinding(f))
		}
	}

	if d.ErrorDetails != nil {
		e := d.ErrorDetails
		msg := fmt.Sprintf("Error (%s): %s", e.Type, e.Message)
		if e.FailedAgent != "" {
			msg += fmt.Sprintf(" [%s agent]", e.FailedAgent)
		}
		lines = append(lines, layout.ErrorStyle.Render(msg))
		if d.Status == models.RunStatusPaused {
			lines = append(lines, layout.DimStyle.Render(fmt.Sprintf("Retries used: %d/%d", e.RetryCount, e.MaxRetries)))
		}
	}

	return strings.Join(lines, "\n")
}

func actionSymbol(a models.FileAction) string {
	switch a {
	case models.ActionCreate:
		return layout.SuccessStyle.Render("+")
	case models.ActionDelete:
		return layout.ErrorStyle.Render("-")
	default:
		return layout.AccentStyle.Render("~")
	}
}

func renderFinding(f models.Finding) string {
	loc := f.File
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	var sev string
	switch f.Severity {
	case models.SeverityError:
		sev = layout.ErrorStyle.Render("error")
	case models.SeverityWarning:
		sev = layout.WarningStyle.Render("warn ")
	default:
		sev = layout.DimStyle.Render("info ")
	}
	return fmt.Sprintf("%s %s %s", sev, layout.DimStyle.Render(loc), f.Message)
}

// FormatDuration renders d as "1h 2m 3s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
