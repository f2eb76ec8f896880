// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agentfeed accumulates streamed agent output into one section per
// agent turn.
package agentfeed

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// Section is a contiguous block of output. Notes have no agent.
type Section struct {
	Agent models.AgentRole
	Title string
	Text  strings.Builder
}

// Model holds the sections in arrival order.
type Model struct {
	sections []*Section
	width    int
}

// New creates an empty feed.
func New(width int) Model {
	return Model{width: width}
}

// SetWidth sets the wrap width.
func (m Model) SetWidth(w int) Model {
	m.width = w
	return m
}

// Begin opens a new section for agent so the next turn is visually separate
// even when the same agent speaks twice in a row.
func (m Model) Begin(agent models.AgentRole, title string) Model {
	m.sections = append(m.sections, &Section{Agent: agent, Title: title})
	return m
}

// Append adds a chunk to the open section of agent, opening one if needed.
func (m Model) Append(agent models.AgentRole, chunk string) Model {
	if n := len(m.sections); n == 0 || m.sections[n-1].Agent != agent {
		m = m.Begin(agent, "")
	}
	m.sections[len(m.sections)-1].Text.WriteString(chunk)
	return m
}

// Note adds a standalone system line.
func (m Model) Note(text string) Model {
	s := &Section{}
	s.Text.WriteString(text)
	m.sections = append(m.sections, s)
	return m
}

// Len returns the number of sections.
func (m Model) Len() int { return len(m.sections) }

// Text returns everything agent has streamed.
func (m Model) Text(agent models.AgentRole) string {
	var b strings.Builder
	for _, s := range m.sections {
		if s.Agent == agent {
			b.WriteString(s.Text.String())
		}
	}
	return b.String()
}

// Render draws the feed for a viewport or for plain stdout.
func (m Model) Render() string {
	if len(m.sections) == 0 {
		return ""
	}
	body := lipgloss.NewStyle().Foreground(layout.TextColor)
	if m.width > 4 {
		body = body.Width(m.width - 2)
	}

	var out []string
	for _, s := range m.sections {
		if s.Agent == "" {
			out = append(out, layout.DimStyle.Render("▸ "+strings.TrimSpace(s.Text.String())))
			continue
		}
		header := layout.AgentStyle(s.Agent).Render(titleFor(s))
		text := strings.TrimRight(s.Text.String(), "\n")
		if text == "" {
			out = append(out, header)
			continue
		}
		out = append(out, header+"\n"+body.Render(text))
	}
	return strings.Join(out, "\n\n")
}

func titleFor(s *Section) string {
	if s.Title != "" {
		return s.Title
	}
	switch s.Agent {
	case models.RolePlanner:
		return "Planner"
	case models.RoleCoder:
		return "Coder"
	case models.RoleReviewer:
		return "Reviewer"
	}
	return string(s.Agent)
}
