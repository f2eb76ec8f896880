// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names used in corrective instructions and diagnostics.
const (
	SchemaSubtaskList   = "SubtaskList"
	SchemaFileChangeSet = "FileChangeSet"
	SchemaReviewResult  = "ReviewResult"
)

const subtaskListSchema = `{
  "type": "object",
  "required": ["subtasks"],
  "properties": {
    "subtasks": {
      "type": "array",
      "minItems": 1,
      "maxItems": 10,
      "items": {
        "type": "object",
        "required": ["id", "title", "description", "order"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1, "maxLength": 200},
          "description": {"type": "string", "minLength": 1},
          "order": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

const fileChangeSetSchema = `{
  "type": "object",
  "required": ["files"],
  "properties": {
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["filePath", "language", "content", "action"],
        "properties": {
          "filePath": {"type": "string", "minLength": 1},
          "language": {"type": "string", "minLength": 1},
          "content": {"type": "string"},
          "action": {"enum": ["create", "modify", "delete"]}
        }
      }
    }
  }
}`

const reviewResultSchema = `{
  "type": "object",
  "required": ["passed", "score", "findings"],
  "properties": {
    "passed": {"type": "boolean"},
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["severity", "file", "line", "message"],
        "properties": {
          "severity": {"enum": ["error", "warning", "info"]},
          "file": {"type": "string", "minLength": 1},
          "line": {"type": "integer", "minimum": 0},
          "message": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var (
	subtaskListValidator   = mustCompile(SchemaSubtaskList, subtaskListSchema)
	fileChangeSetValidator = mustCompile(SchemaFileChangeSet, fileChangeSetSchema)
	reviewResultValidator  = mustCompile(SchemaReviewResult, reviewResultSchema)
)

func mustCompile(name, src string) *jsonschema.Schema {
	url := fmt.Sprintf("mem://schemas/%s.json", name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}
