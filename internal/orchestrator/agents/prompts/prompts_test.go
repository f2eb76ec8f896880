// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskData struct {
	Title, Description, Category string
}

type finding struct {
	Severity, File, Message string
	Line                    int
}

type file struct {
	FilePath, Language, Content, Action string
}

func TestDefault_RendersAllPrompts(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)

	task := taskData{Title: "Add login", Category: "feature"}
	subtasks := []struct {
		Order              int
		Title, Description string
	}{{1, "Model", "Create the user model"}}
	files := []file{{"auth/login.go", "go", "package auth", "create"}}

	p, err := lib.Render(Plan, map[string]any{"Task": task})
	require.NoError(t, err)
	assert.Contains(t, p.User, "**Title**: Add login")
	assert.Contains(t, p.User, "No description provided")
	assert.Contains(t, p.System, `"subtasks"`)

	p, err = lib.Render(Code, map[string]any{"Task": task, "Subtasks": subtasks})
	require.NoError(t, err)
	assert.Contains(t, p.User, "### Subtask 1: Model")

	p, err = lib.Render(Fix, map[string]any{
		"Task": task, "Subtasks": subtasks, "Files": files,
		"Review":  map[string]any{"Findings": []finding{{"error", "auth/login.go", "nil check", 3}}},
		"Attempt": 1, "MaxAttempts": 2,
	})
	require.NoError(t, err)
	assert.Contains(t, p.User, "attempt 1/2")
	assert.Contains(t, p.User, "1. **[ERROR]** `auth/login.go` line 3: nil check")
	assert.Contains(t, p.User, "```go\npackage auth\n```")

	p, err = lib.Render(Review, map[string]any{
		"Task": task, "Subtasks": subtasks, "Files": files, "PassThreshold": 70,
	})
	require.NoError(t, err)
	assert.Contains(t, p.System, "score >= 70")
	assert.Contains(t, p.User, "[CREATE]")
}

func TestRender_Errors(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)

	_, err = lib.Render("deploy", nil)
	assert.ErrorContains(t, err, `unknown prompt "deploy"`)

	_, err = lib.Render(Plan, map[string]any{})
	assert.Error(t, err)
}

func TestParse_MissingPrompt(t *testing.T) {
	_, err := Parse([]byte("plan:\n  system: s\n  user: u\n"))
	assert.ErrorContains(t, err, "is missing")
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	override := "plan:\n  user: 'Plan {{.Task.Title}} quickly'\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(override), 0o644))

	lib, err := Load(dir)
	require.NoError(t, err)

	p, err := lib.Render(Plan, map[string]any{"Task": taskData{Title: "X"}})
	require.NoError(t, err)
	assert.Equal(t, "Plan X quickly", p.User)
	assert.Contains(t, p.System, "software architect")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	lib, err := Load(t.TempDir())
	require.NoError(t, err)
	_, err = lib.Render(Review, map[string]any{"Task": taskData{}, "Subtasks": nil, "Files": nil, "PassThreshold": 70})
	assert.NoError(t, err)
}
