// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasklist is the task board: pick a task to run or inspect.
package tasklist

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// TaskItem adapts a task to the list.
type TaskItem struct {
	Task *models.Task
}

func (i TaskItem) FilterValue() string { return i.Task.Title }

func (i TaskItem) Title() string { return i.Task.Title }

func (i TaskItem) Description() string {
	return fmt.Sprintf("%s · %s · %s", i.Task.Status, i.Task.Category, i.Task.ID)
}

// Model is the task board screen.
type Model struct {
	list     list.Model
	frame    layout.Frame
	selected *models.Task
	width    int
	height   int
}

// New creates a board listing tasks.
func New(tasks []*models.Task) Model {
	items := make([]list.Item, 0, len(tasks))
	runnable := 0
	for _, t := range tasks {
		items = append(items, TaskItem{Task: t})
		if t.Status.CanStart() {
			runnable++
		}
	}

	l := list.New(items, list.NewDefaultDelegate(), 50, 10)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)

	return Model{
		list: l,
		frame: layout.Frame{
			Title:  "Tasks",
			Status: fmt.Sprintf("%d tasks, %d ready to run", len(tasks), runnable),
			Help:   []string{"enter", "select", "/", "filter", "q", "quit"},
		},
		width:  50,
		height: 10,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(TaskItem); ok {
				m.selected = item.Task
				return m, tea.Quit
			}
			return m, nil
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the board
func (m Model) View() string {
	return m.frame.Render(m.list.View(), m.width, m.height)
}

// SetSize resizes the list to the frame's content area.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, m.frame.ContentHeight(width, height))
}

// Selected returns the chosen task, or nil when the board was closed.
func (m Model) Selected() *models.Task {
	return m.selected
}
