// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package layout

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	MinimumWidth  = 40
	MinimumHeight = 10
)

// Frame is the chrome around a full-screen view.
type Frame struct {
	Title  string
	Status string
	Help   []string // key, description pairs
}

func (f Frame) header(width int) string {
	lines := []string{HeaderStyle.Render(f.Title)}
	if f.Status != "" {
		lines = append(lines, LabelStyle.Render(f.Status))
	}
	lines = append(lines, GetDivider(width))
	return strings.Join(lines, "\n")
}

func (f Frame) footer(width int) string {
	if len(f.Help) == 0 {
		return ""
	}
	return GetDivider(width) + "\n" + lipgloss.NewStyle().Width(width).Render(HelpLine(f.Help...))
}

// ContentHeight is the number of lines left for content at the given size.
func (f Frame) ContentHeight(width, height int) int {
	h := height - lipgloss.Height(f.header(width))
	if foot := f.footer(width); foot != "" {
		h -= lipgloss.Height(foot)
	}
	return max(h, 1)
}

// Render places content between the header and footer. A terminal below the
// minimum size gets a notice instead.
func (f Frame) Render(content string, width, height int) string {
	if width < MinimumWidth || height < MinimumHeight {
		return ErrorStyle.Render(fmt.Sprintf("Terminal too small (%dx%d). Minimum: %dx%d",
			width, height, MinimumWidth, MinimumHeight))
	}
	h := f.ContentHeight(width, height)
	body := lipgloss.NewStyle().Width(width).Height(h).MaxHeight(h).Render(content)
	parts := []string{f.header(width), body}
	if foot := f.footer(width); foot != "" {
		parts = append(parts, foot)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
