// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

// Request is one streaming completion call.
type Request struct {
	Role      models.AgentRole
	Model     string
	System    string
	User      string
	MaxTokens int
	APIKey    string
}

// Provider streams a completion, calling onChunk for every text delta in
// order. A non-nil error from onChunk aborts the stream and is returned.
type Provider interface {
	Stream(ctx context.Context, req Request, onChunk func(chunk string) error) error
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindAPI            ErrorKind = "api"
)

// ProviderError is a classified failure reported by the model provider.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int // 0 when the provider did not report one
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Status returns the HTTP status to report for the error.
func (e *ProviderError) Status() int {
	switch e.Kind {
	case ErrorKindAuthentication:
		return 401
	case ErrorKindRateLimited:
		return 429
	}
	return e.StatusCode
}

var statusPattern = regexp.MustCompile(`status code:?\s*(\d{3})`)

// ClassifyError maps a raw provider error to a *ProviderError. It returns nil
// when err carries no recognisable provider signal.
func ClassifyError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	if m := statusPattern.FindStringSubmatch(lower); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &ProviderError{Kind: kindForStatus(code), StatusCode: code, Message: msg, Err: err}
	}

	switch {
	case strings.Contains(lower, "authentication_error"), strings.Contains(lower, "invalid x-api-key"):
		return &ProviderError{Kind: ErrorKindAuthentication, StatusCode: 401, Message: msg, Err: err}
	case strings.Contains(lower, "rate_limit"):
		return &ProviderError{Kind: ErrorKindRateLimited, StatusCode: 429, Message: msg, Err: err}
	case strings.Contains(lower, "overloaded"):
		return &ProviderError{Kind: ErrorKindAPI, StatusCode: 529, Message: msg, Err: err}
	}
	return nil
}

func kindForStatus(code int) ErrorKind {
	switch code {
	case 401, 403:
		return ErrorKindAuthentication
	case 429:
		return ErrorKindRateLimited
	}
	return ErrorKindAPI
}
