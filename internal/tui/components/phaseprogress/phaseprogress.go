// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package phaseprogress

import (
	"fmt"
	"strings"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// stages are the slots of the bar. Fixing shares the review slot because the
// loop alternates between the two.
var stages = []models.Phase{models.PhasePlanning, models.PhaseCoding, models.PhaseReviewing}

// Model renders where a run is in planning → coding → review/fix.
type Model struct {
	phase         models.Phase
	status        models.RunStatus
	iteration     int
	maxIterations int
	width         int
}

// New creates a progress bar for a run that has not started yet.
func New(maxIterations int) Model {
	return Model{
		status:        models.RunStatusRunning,
		maxIterations: maxIterations,
		width:         15,
	}
}

// SetWidth sets the bar width in cells.
func (m Model) SetWidth(w int) Model {
	if w > 0 {
		m.width = w
	}
	return m
}

// Apply records a phase change.
func (m Model) Apply(phase models.Phase, status models.RunStatus, iteration int) Model {
	m.phase = phase
	m.status = status
	m.iteration = iteration
	return m
}

// Phase returns the last recorded phase.
func (m Model) Phase() models.Phase { return m.phase }

// Status returns the last recorded run status.
func (m Model) Status() models.RunStatus { return m.status }

// Iteration returns the last recorded iteration.
func (m Model) Iteration() int { return m.iteration }

func (m Model) stageIndex() int {
	switch m.phase {
	case models.PhasePlanning:
		return 0
	case models.PhaseCoding:
		return 1
	case models.PhaseReviewing, models.PhaseFixing:
		return 2
	case models.PhaseCompleted, models.PhaseFailed:
		return len(stages)
	}
	return -1
}

// Filled returns how many cells of the bar are filled.
func (m Model) Filled() int {
	idx := m.stageIndex()
	switch {
	case idx < 0:
		return 0
	case idx >= len(stages):
		return m.width
	}
	// The current stage counts as half done.
	return (idx*2 + 1) * m.width / (len(stages) * 2)
}

// Label describes the current phase, e.g. "Fixing (attempt 1/2)".
func (m Model) Label() string {
	switch m.phase {
	case "":
		return "Starting"
	case models.PhasePlanning:
		return "Planning"
	case models.PhaseCoding:
		return "Coding"
	case models.PhaseReviewing:
		if m.iteration > 0 {
			return fmt.Sprintf("Reviewing (iteration %d/%d)", m.iteration+1, m.maxIterations)
		}
		return "Reviewing"
	case models.PhaseFixing:
		return fmt.Sprintf("Fixing (attempt %d/%d)", m.iteration, m.maxIterations-1)
	case models.PhaseCompleted:
		return "Complete"
	case models.PhaseFailed:
		return "Failed"
	case models.PhaseCancelled:
		return "Cancelled"
	}
	return string(m.phase)
}

// View renders: [▓▓▓▓▓░░░░░] 2/3 Coding
func (m Model) View() string {
	filled := m.Filled()
	bar := layout.SuccessStyle.Render(strings.Repeat("▓", filled)) +
		layout.DimStyle.Render(strings.Repeat("░", m.width-filled))

	step := m.stageIndex() + 1
	if step > len(stages) {
		step = len(stages)
	}
	if step < 0 {
		step = 0
	}
	counter := layout.DimStyle.Render(fmt.Sprintf("%d/%d", step, len(stages)))

	var label string
	switch {
	case m.status == models.RunStatusPaused:
		label = layout.WarningStyle.Render(m.Label() + " (paused)")
	case m.phase == models.PhaseCompleted:
		label = layout.SuccessStyle.Render("Complete ✓")
	case m.phase == models.PhaseFailed:
		label = layout.ErrorStyle.Render("Failed ✗")
	default:
		label = layout.AccentStyle.Render(m.Label())
	}

	return fmt.Sprintf("[%s] %s %s", bar, counter, label)
}
