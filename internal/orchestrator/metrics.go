// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "pipeline",
		Name:      "runs_started_total",
		Help:      "Pipeline runs created, by trigger",
	}, []string{"trigger"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "pipeline",
		Name:      "runs_finished_total",
		Help:      "Pipeline runs that stopped, by outcome",
	}, []string{"outcome"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeforge",
		Subsystem: "pipeline",
		Name:      "runs_executing",
		Help:      "Run executions currently in progress in this process",
	})

	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "pipeline",
		Name:      "phase_transitions_total",
		Help:      "Persisted phase transitions",
	}, []string{"phase"})

	runPauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "pipeline",
		Name:      "run_pauses_total",
		Help:      "Runs paused on an agent error, by error type",
	}, []string{"type"})

	controlOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeforge",
		Subsystem: "pipeline",
		Name:      "control_operations_total",
		Help:      "Control operations by name and outcome",
	}, []string{"op", "outcome"})
)
