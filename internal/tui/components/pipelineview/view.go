// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipelineview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/noldarim/codeforge/internal/tui/components/pipelinesummary"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// View renders the pipeline view with scrollable content and fixed status bar
func (m Model) View() string {
	// The summary is printed to stdout after the program exits.
	if m.state == StateDone {
		return ""
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		layout.GetDivider(m.width),
		m.StatusBar(),
	)
}

// StatusBar renders: spinner progress │ elapsed │ help
func (m Model) StatusBar() string {
	parts := []string{
		m.spinner.View() + " " + m.progress.View(),
		layout.DimStyle.Render("⏱") + " " + layout.AccentStyle.Render(pipelinesummary.FormatDuration(m.elapsed)),
	}
	if m.state == StateCancelling {
		parts = append(parts, layout.WarningStyle.Render("cancelling..."))
	} else {
		parts = append(parts, layout.HelpLine("↑/↓", "scroll", "ctrl+c", "cancel"))
	}
	return strings.Join(parts, layout.DimStyle.Render(" │ "))
}
