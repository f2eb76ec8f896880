// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"fmt"

	"github.com/noldarim/codeforge/internal/config"
)

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderDemo      = "demo"
)

// NewProvider creates a provider by name.
func NewProvider(name string, cfg config.LLMConfig) (Provider, error) {
	switch name {
	case ProviderAnthropic, "":
		return NewAnthropicProvider(cfg), nil
	case ProviderDemo:
		return NewDemoProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s (supported: %s, %s)", name, ProviderAnthropic, ProviderDemo)
	}
}
