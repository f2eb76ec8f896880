// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

const (
	demoChunkSize  = 24
	demoChunkDelay = 15 * time.Millisecond
)

const demoPlan = "I'll split this into two steps.\n\n```json\n" + `{
  "subtasks": [
    {"id": "subtask-1", "title": "Add greeting package", "description": "Create package greet with a Hello(name string) string function.", "order": 1},
    {"id": "subtask-2", "title": "Wire command", "description": "Call greet.Hello from main and print the result.", "order": 2}
  ]
}` + "\n```\n"

const demoCode = `{
  "files": [
    {"filePath": "greet/greet.go", "language": "go", "content": "package greet\n\nimport \"fmt\"\n\n// Hello greets name.\nfunc Hello(name string) string {\n\treturn fmt.Sprintf(\"Hello, %s!\", name)\n}\n", "action": "create"},
    {"filePath": "main.go", "language": "go", "content": "package main\n\nimport (\n\t\"fmt\"\n\n\t\"example.com/demo/greet\"\n)\n\nfunc main() {\n\tfmt.Println(greet.Hello(\"world\"))\n}\n", "action": "modify"}
  ]
}`

const demoReview = `{
  "passed": true,
  "score": 88,
  "findings": [
    {"severity": "info", "file": "greet/greet.go", "line": 6, "message": "Consider handling an empty name."}
  ]
}`

// DemoProvider streams canned, valid outputs for every role. It lets the CLI
// and server exercise a full pipeline without an API key.
type DemoProvider struct {
	delay time.Duration
}

// NewDemoProvider creates a demo provider with a visible streaming pace.
func NewDemoProvider() *DemoProvider {
	return &DemoProvider{delay: demoChunkDelay}
}

// Stream implements Provider.
func (p *DemoProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) error {
	var text string
	switch req.Role {
	case models.RolePlanner:
		text = demoPlan
	case models.RoleCoder:
		text = demoCode
	case models.RoleReviewer:
		text = demoReview
	default:
		return fmt.Errorf("demo provider: unknown role %q", req.Role)
	}

	runes := []rune(text)
	for start := 0; start < len(runes); start += demoChunkSize {
		end := min(start+demoChunkSize, len(runes))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay):
		}
		if err := onChunk(string(runes[start:end])); err != nil {
			return err
		}
	}
	return nil
}
