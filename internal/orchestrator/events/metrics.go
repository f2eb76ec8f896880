// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Labels: type (wire event name)
	eventsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codeforge",
			Subsystem: "events",
			Name:      "pushed_total",
			Help:      "Events pushed to the bus by type",
		},
		[]string{"type"},
	)

	sinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "codeforge",
			Subsystem: "events",
			Name:      "sinks_active",
			Help:      "Currently registered subscriber sinks",
		},
	)

	sinkWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codeforge",
			Subsystem: "events",
			Name:      "sink_write_errors_total",
			Help:      "Sink writes that failed and dropped the sink",
		},
	)

	sinksStalled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codeforge",
			Subsystem: "events",
			Name:      "sinks_stalled_total",
			Help:      "Sinks dropped because their queue filled up",
		},
	)
)
