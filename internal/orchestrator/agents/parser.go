// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// fencePattern matches the first fenced block, tagged json or untagged.
	fencePattern = regexp.MustCompile("(?i)```(?:json)?\\s*([\\s\\S]*?)```")
	// bracePattern spans from the first '{' to the last '}'.
	bracePattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// ParseError reports that no extraction candidate produced a valid document.
type ParseError struct {
	Schema    string
	RawLength int
	Cause     error // last candidate's failure, nil when no candidate existed
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Failed to parse agent output as valid JSON matching schema. Raw text length: %d", e.RawLength)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ParseSubtasks extracts the planner document from raw agent text.
func ParseSubtasks(text string) (models.SubtaskList, error) {
	return parseDocument[models.SubtaskList](text, SchemaSubtaskList, subtaskListValidator)
}

// ParseFileChanges extracts the coder document from raw agent text.
func ParseFileChanges(text string) (models.FileChangeSet, error) {
	return parseDocument[models.FileChangeSet](text, SchemaFileChangeSet, fileChangeSetValidator)
}

// ParseReview extracts the reviewer document from raw agent text.
func ParseReview(text string) (models.ReviewResult, error) {
	return parseDocument[models.ReviewResult](text, SchemaReviewResult, reviewResultValidator)
}

// candidates returns the extraction attempts in priority order: first fenced
// block, first-to-last brace span, whole trimmed text.
func candidates(text string) []string {
	out := make([]string, 0, 3)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if m := bracePattern.FindString(text); m != "" {
		out = append(out, m)
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

func parseDocument[T models.Validator](text, schemaName string, schema *jsonschema.Schema) (T, error) {
	var lastErr error
	for _, c := range candidates(text) {
		v, err := decodeCandidate[T](c, schema)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}

	var zero T
	return zero, &ParseError{
		Schema:    schemaName,
		RawLength: utf8.RuneCountInString(text),
		Cause:     lastErr,
	}
}

func decodeCandidate[T models.Validator](candidate string, schema *jsonschema.Schema) (T, error) {
	var zero T

	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return zero, fmt.Errorf("not JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return zero, fmt.Errorf("schema: %w", err)
	}

	var v T
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}
	if err := v.Validate(); err != nil {
		return zero, err
	}
	return v, nil
}
