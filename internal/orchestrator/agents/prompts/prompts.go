// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompts renders the system and user prompts for the pipeline agents
// from an embedded YAML library that an on-disk file may override.
package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt names.
const (
	Plan   = "plan"
	Code   = "code"
	Fix    = "fix"
	Review = "review"
)

// FileName is the override file looked up in the prompts directory.
const FileName = "prompts.yaml"

//go:embed prompts.yaml
var embedded []byte

var required = []string{Plan, Code, Fix, Review}

// Prompt is a rendered system/user pair.
type Prompt struct {
	System string
	User   string
}

type entry struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

// Library holds the compiled templates. It is safe for concurrent use.
type Library struct {
	entries map[string]compiled
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"inc":   func(i int) int { return i + 1 },
}

// Default returns the embedded library.
func Default() (*Library, error) {
	return Parse(embedded)
}

// Load returns the embedded library with entries from dir/prompts.yaml
// layered on top. An empty dir or a missing file yields the defaults.
func Load(dir string) (*Library, error) {
	if dir == "" {
		return Default()
	}

	raw, err := parseEntries(embedded)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return build(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("read prompts override %s: %w", path, err)
	}

	overrides, err := parseEntries(data)
	if err != nil {
		return nil, fmt.Errorf("prompts override %s: %w", path, err)
	}
	for name, e := range overrides {
		base := raw[name]
		if e.System != "" {
			base.System = e.System
		}
		if e.User != "" {
			base.User = e.User
		}
		raw[name] = base
	}
	return build(raw)
}

// Parse compiles a complete library from YAML.
func Parse(data []byte) (*Library, error) {
	raw, err := parseEntries(data)
	if err != nil {
		return nil, err
	}
	return build(raw)
}

func parseEntries(data []byte) (map[string]entry, error) {
	var raw map[string]entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	if raw == nil {
		raw = make(map[string]entry)
	}
	return raw, nil
}

func build(raw map[string]entry) (*Library, error) {
	lib := &Library{entries: make(map[string]compiled, len(raw))}
	for _, name := range required {
		if _, ok := raw[name]; !ok {
			return nil, fmt.Errorf("prompt %q is missing", name)
		}
	}
	for name, e := range raw {
		if strings.TrimSpace(e.System) == "" || strings.TrimSpace(e.User) == "" {
			return nil, fmt.Errorf("prompt %q needs both system and user templates", name)
		}
		sys, err := template.New(name + ".system").Funcs(funcs).Option("missingkey=error").Parse(e.System)
		if err != nil {
			return nil, fmt.Errorf("parse %s system template: %w", name, err)
		}
		usr, err := template.New(name + ".user").Funcs(funcs).Option("missingkey=error").Parse(e.User)
		if err != nil {
			return nil, fmt.Errorf("parse %s user template: %w", name, err)
		}
		lib.entries[name] = compiled{system: sys, user: usr}
	}
	return lib, nil
}

// Render executes the named templates against data.
func (l *Library) Render(name string, data any) (Prompt, error) {
	c, ok := l.entries[name]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prompt %q", name)
	}

	var sys, usr bytes.Buffer
	if err := c.system.Execute(&sys, data); err != nil {
		return Prompt{}, fmt.Errorf("render %s system prompt: %w", name, err)
	}
	if err := c.user.Execute(&usr, data); err != nil {
		return Prompt{}, fmt.Errorf("render %s user prompt: %w", name, err)
	}
	return Prompt{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(usr.String()),
	}, nil
}
