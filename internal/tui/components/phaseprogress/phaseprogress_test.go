// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package phaseprogress

import (
	"testing"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/stretchr/testify/assert"
)

func TestFilled(t *testing.T) {
	tests := []struct {
		phase models.Phase
		want  int
	}{
		{"", 0},
		{models.PhasePlanning, 2},
		{models.PhaseCoding, 7},
		{models.PhaseReviewing, 12},
		{models.PhaseFixing, 12},
		{models.PhaseCompleted, 15},
		{models.PhaseFailed, 15},
		{models.PhaseCancelled, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			m := New(3).Apply(tt.phase, models.RunStatusRunning, 0)
			assert.Equal(t, tt.want, m.Filled())
		})
	}
}

func TestLabel(t *testing.T) {
	m := New(3)
	assert.Equal(t, "Starting", m.Label())
	assert.Equal(t, "Reviewing", m.Apply(models.PhaseReviewing, models.RunStatusRunning, 0).Label())
	assert.Equal(t, "Fixing (attempt 1/2)", m.Apply(models.PhaseFixing, models.RunStatusRunning, 1).Label())
	assert.Equal(t, "Reviewing (iteration 2/3)", m.Apply(models.PhaseReviewing, models.RunStatusRunning, 1).Label())
}

func TestView(t *testing.T) {
	m := New(3).SetWidth(10)
	assert.Contains(t, m.View(), "0/3")

	m = m.Apply(models.PhaseCoding, models.RunStatusPaused, 0)
	assert.Contains(t, m.View(), "2/3")
	assert.Contains(t, m.View(), "Coding (paused)")

	m = m.Apply(models.PhaseCompleted, models.RunStatusPassed, 0)
	assert.Contains(t, m.View(), "3/3")
	assert.Contains(t, m.View(), "Complete")
}
