// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package taskform is the interactive form behind "task create".
package taskform

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/samber/lo"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/orchestrator/services"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// Model wraps a huh form that collects a services.NewTask.
type Model struct {
	form        *huh.Form
	title       string
	description string
	category    string
	submitted   bool
	aborted     bool
}

// New creates the form, prefilled with initial.
func New(initial services.NewTask) Model {
	m := Model{
		title:       initial.Title,
		description: initial.Description,
		category:    string(initial.Category),
	}
	if m.category == "" {
		m.category = string(models.CategoryFeature)
	}
	m.initForm()
	return m
}

// initForm builds the huh form bound to the model's fields.
func (m *Model) initForm() {
	options := lo.Map(models.TaskCategories, func(c models.TaskCategory, _ int) huh.Option[string] {
		return huh.NewOption(string(c), string(c))
	})

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("title").
				Title("Task Title").
				Placeholder("Add password reset").
				Value(&m.title).
				Validate(func(s string) error {
					return fieldError("title", services.NewTask{Title: s, Description: "-", Category: models.CategoryFeature})
				}),

			huh.NewSelect[string]().
				Key("category").
				Title("Category").
				Options(options...).
				Value(&m.category),

			huh.NewText().
				Key("description").
				Title("Description").
				Placeholder("What should the agents build?").
				Value(&m.description).
				Validate(func(s string) error {
					return fieldError("description", services.NewTask{Title: "-", Description: s, Category: models.CategoryFeature})
				}),
		),
	).WithTheme(huh.ThemeCharm())
}

// fieldError runs task validation and keeps only the error for field.
func fieldError(field string, in services.NewTask) error {
	var ve *services.ValidationError
	if err := in.Validate(); errors.As(err, &ve) && ve.Field == field {
		return errors.New(ve.Message)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages and updates the model state
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.submitted = true
		return m, tea.Quit
	case huh.StateAborted:
		m.aborted = true
		return m, tea.Quit
	}
	return m, cmd
}

func (m Model) View() string {
	if m.submitted || m.aborted {
		return ""
	}
	return layout.HeaderStyle.Render("New task") + "\n\n" + m.form.View() + "\n" +
		layout.HelpLine("tab", "next field", "enter", "submit", "esc", "cancel")
}

// Submitted reports whether the form was completed.
func (m Model) Submitted() bool { return m.submitted }

// Aborted reports whether the user cancelled.
func (m Model) Aborted() bool { return m.aborted }

// Task returns the collected input.
func (m Model) Task() services.NewTask {
	return services.NewTask{
		Title:       m.title,
		Description: m.description,
		Category:    models.TaskCategory(m.category),
	}
}
