// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"fmt"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

// DefaultPassThreshold is the minimum review score for a pass.
const DefaultPassThreshold = 70

// RoleSettings selects the model and token budget for one role.
type RoleSettings struct {
	Model     string
	MaxTokens int
}

// Settings configures the adapters.
type Settings struct {
	Planner       RoleSettings
	Coder         RoleSettings
	Reviewer      RoleSettings
	PassThreshold int
}

// SettingsFromConfig builds Settings from application config.
func SettingsFromConfig(agents config.AgentsConfig, pipeline config.PipelineConfig) Settings {
	return Settings{
		Planner:       RoleSettings{Model: agents.Planner.Model, MaxTokens: agents.Planner.MaxTokens},
		Coder:         RoleSettings{Model: agents.Coder.Model, MaxTokens: agents.Coder.MaxTokens},
		Reviewer:      RoleSettings{Model: agents.Reviewer.Model, MaxTokens: agents.Reviewer.MaxTokens},
		PassThreshold: pipeline.PassThreshold,
	}
}

// For returns the settings of role.
func (s Settings) For(role models.AgentRole) RoleSettings {
	switch role {
	case models.RolePlanner:
		return s.Planner
	case models.RoleCoder:
		return s.Coder
	case models.RoleReviewer:
		return s.Reviewer
	}
	return RoleSettings{}
}

// Validate checks that every role has a model and a positive budget.
func (s Settings) Validate() error {
	for _, role := range []models.AgentRole{models.RolePlanner, models.RoleCoder, models.RoleReviewer} {
		rs := s.For(role)
		if rs.Model == "" {
			return fmt.Errorf("%s: model is required", role)
		}
		if rs.MaxTokens <= 0 {
			return fmt.Errorf("%s: max_tokens must be positive", role)
		}
	}
	if s.PassThreshold < 0 || s.PassThreshold > models.MaxReviewScore {
		return fmt.Errorf("pass threshold must be within 0..%d", models.MaxReviewScore)
	}
	return nil
}
