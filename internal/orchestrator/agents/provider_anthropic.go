// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/noldarim/codeforge/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"golang.org/x/time/rate"
)

// Rate limiter defaults when config leaves them unset.
const (
	defaultRequestsPerSecond = 2.0
	defaultBurst             = 4
)

// AnthropicProvider streams completions from the Anthropic Messages API.
// A client is built per request because API keys arrive with each call and
// are never kept.
type AnthropicProvider struct {
	baseURL string
	limiter *rate.Limiter
}

// NewAnthropicProvider creates a provider throttled by cfg's rate settings.
func NewAnthropicProvider(cfg config.LLMConfig) *AnthropicProvider {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &AnthropicProvider{
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Stream implements Provider.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) error {
	if req.APIKey == "" {
		return &ProviderError{Kind: ErrorKindAuthentication, StatusCode: 401, Message: "missing API key"}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rate limiter error: %w", err)
	}

	opts := []anthropic.Option{
		anthropic.WithToken(req.APIKey),
		anthropic.WithModel(req.Model),
	}
	if p.baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(p.baseURL))
	}
	client, err := anthropic.New(opts...)
	if err != nil {
		return fmt.Errorf("create anthropic client: %w", err)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.User),
	}

	var chunkErr error
	_, err = client.GenerateContent(ctx, messages,
		llms.WithModel(req.Model),
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if err := onChunk(string(chunk)); err != nil {
				chunkErr = err
				return err
			}
			return nil
		}),
	)
	if chunkErr != nil {
		return chunkErr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if pe := ClassifyError(err); pe != nil {
			return pe
		}
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
