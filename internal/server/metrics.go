// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeforge",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency, including the full lifetime of streams",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	streamsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "codeforge",
		Subsystem: "http",
		Name:      "streams_open",
		Help:      "Open live event streams by transport",
	}, []string{"transport"})
)
