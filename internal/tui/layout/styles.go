// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package layout holds the shared palette and styles of the operator TUI.
package layout

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

var (
	// Color palette
	PrimaryColor   = lipgloss.Color("#7C3AED")
	SecondaryColor = lipgloss.Color("#A78BFA")
	AccentColor    = lipgloss.Color("75")
	SuccessColor   = lipgloss.Color("35")
	TextColor      = lipgloss.Color("252")
	MutedColor     = lipgloss.Color("245")
	DimColor       = lipgloss.Color("239")
	ErrorColor     = lipgloss.Color("196")
	WarningColor   = lipgloss.Color("#F59E0B")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F3F4F6")).
			Background(PrimaryColor).
			Bold(true).
			PaddingLeft(1).
			PaddingRight(1)

	TitleStyle   = lipgloss.NewStyle().Foreground(TextColor).Bold(true)
	LabelStyle   = lipgloss.NewStyle().Foreground(MutedColor)
	ValueStyle   = lipgloss.NewStyle().Foreground(TextColor)
	DimStyle     = lipgloss.NewStyle().Foreground(DimColor)
	AccentStyle  = lipgloss.NewStyle().Foreground(AccentColor)
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor).Bold(true)

	HelpKeyStyle  = lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	HelpTextStyle = lipgloss.NewStyle().Foreground(MutedColor)
)

// AgentStyle colours an agent's name consistently across components.
func AgentStyle(role models.AgentRole) lipgloss.Style {
	switch role {
	case models.RolePlanner:
		return lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	case models.RoleCoder:
		return lipgloss.NewStyle().Foreground(AccentColor).Bold(true)
	case models.RoleReviewer:
		return lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	default:
		return TitleStyle
	}
}

// StatusBadge renders a run status with its symbol.
func StatusBadge(status models.RunStatus) string {
	switch status {
	case models.RunStatusPassed:
		return SuccessStyle.Render("✓") + " " + SuccessStyle.Bold(true).Render("Passed")
	case models.RunStatusFailed:
		return ErrorStyle.Render("✗ Failed")
	case models.RunStatusPaused:
		return WarningStyle.Render("‖ Paused")
	case models.RunStatusCancelled:
		return DimStyle.Render("⊘") + " " + LabelStyle.Bold(true).Render("Cancelled")
	default:
		return AccentStyle.Render("◦") + " " + AccentStyle.Bold(true).Render("Running")
	}
}

// HelpLine renders "key desc · key desc".
func HelpLine(pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, HelpKeyStyle.Render(pairs[i])+" "+HelpTextStyle.Render(pairs[i+1]))
	}
	return strings.Join(parts, DimStyle.Render(" · "))
}

// GetDivider returns a horizontal divider of the specified width
func GetDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return DimStyle.Render(strings.Repeat("─", width))
}
