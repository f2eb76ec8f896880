// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package layout

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestFrame_ContentHeight(t *testing.T) {
	f := Frame{Title: "Tasks", Status: "3 tasks", Help: []string{"q", "quit"}}
	// title, status, divider above; divider, help below
	assert.Equal(t, 19, f.ContentHeight(80, 24))

	bare := Frame{Title: "Tasks"}
	assert.Equal(t, 22, bare.ContentHeight(80, 24))

	assert.Equal(t, 1, f.ContentHeight(80, 2))
}

func TestFrame_RenderFillsHeight(t *testing.T) {
	f := Frame{Title: "Tasks", Help: []string{"q", "quit"}}
	out := f.Render("hello", 60, 20)

	assert.Equal(t, 20, lipgloss.Height(out))
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "quit")
}

func TestFrame_RenderTooSmall(t *testing.T) {
	out := Frame{Title: "Tasks"}.Render("hello", 30, 5)
	assert.True(t, strings.Contains(out, "Terminal too small (30x5)"))
}

func TestHelpLine(t *testing.T) {
	line := HelpLine("q", "quit", "enter", "select", "dangling")
	assert.Contains(t, line, "quit")
	assert.Contains(t, line, "select")
	assert.NotContains(t, line, "dangling")
}
