// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "agents",
		Name:      "invocations_total",
		Help:      "Agent invocations by role and result",
	}, []string{"role", "result"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeforge",
		Subsystem: "agents",
		Name:      "invocation_duration_seconds",
		Help:      "Wall time of one streamed agent invocation",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"role"})

	parseRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "agents",
		Name:      "parse_retries_total",
		Help:      "Corrective retries after unparseable agent output",
	}, []string{"role"})

	parseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "agents",
		Name:      "parse_failures_total",
		Help:      "Agent outputs that failed parsing after the corrective retry",
	}, []string{"role"})
)
