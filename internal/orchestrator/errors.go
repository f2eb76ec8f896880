// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/agents"
	"github.com/noldarim/codeforge/internal/orchestrator/models"
)

// ControlKind classifies why a control operation was refused.
type ControlKind string

const (
	KindNotFound       ControlKind = "not_found"
	KindInvalidState   ControlKind = "invalid_state"
	KindConflict       ControlKind = "conflict"
	KindRetryExhausted ControlKind = "retry_exhausted"
	KindValidation     ControlKind = "validation"
	KindUnavailable    ControlKind = "unavailable"
)

// ControlError is a caller-displayable refusal of a control operation.
type ControlError struct {
	Kind    ControlKind
	Message string
	Err     error
}

func (e *ControlError) Error() string {
	return e.Message
}

func (e *ControlError) Unwrap() error { return e.Err }

// Is matches the Kind-only sentinels below.
func (e *ControlError) Is(target error) bool {
	t, ok := target.(*ControlError)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// HTTPStatus maps the kind to a response status.
func (e *ControlError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// Sentinels for errors.Is.
var (
	ErrNotFound       = &ControlError{Kind: KindNotFound}
	ErrInvalidState   = &ControlError{Kind: KindInvalidState}
	ErrConflict       = &ControlError{Kind: KindConflict}
	ErrRetryExhausted = &ControlError{Kind: KindRetryExhausted}
	ErrValidation     = &ControlError{Kind: KindValidation}
	ErrShuttingDown   = &ControlError{Kind: KindUnavailable, Message: "Orchestrator is shutting down"}
)

func controlErr(kind ControlKind, format string, args ...any) *ControlError {
	return &ControlError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// maxBackoffShift keeps the doubling from overflowing time.Duration.
const maxBackoffShift = 20

// RetryDelay returns base × 2^retryCount.
func RetryDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}
	return base * time.Duration(1<<retryCount)
}

// classifyFailure fills the type, message and status code of a phase error.
func classifyFailure(err error) models.ErrorDetails {
	d := models.ErrorDetails{Type: models.ErrorTypeUnknown, Message: err.Error()}

	var pe *agents.ProviderError
	var ope *agents.OutputParseError
	switch {
	case errors.As(err, &pe):
		d.Type = models.ErrorTypeAPI
		if code := pe.Status(); code != 0 {
			d.StatusCode = &code
		}
	case errors.As(err, &ope):
		d.Type = models.ErrorTypeParse
	case errors.Is(err, context.DeadlineExceeded):
		d.Type = models.ErrorTypeTimeout
	}
	return d
}
