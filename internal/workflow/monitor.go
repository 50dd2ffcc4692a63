// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	// Durations of workflow calls by workflow and outcome.
	callTimer *prometheus.HistogramVec
	// Number of status polls per workflow call.
	polls *prometheus.HistogramVec
	// Calls that inverted a fresh call in the history.
	collapsed *prometheus.CounterVec
}

func NewEngineMonitor(registry *monitoring.Registry) Monitor {
	callTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantnet_workflow_call_duration_seconds",
		Help:    "Duration of workflow calls including all status polls",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"workflow", "outcome"})
	polls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantnet_workflow_polls",
		Help:    "Number of status polls per workflow call",
		Buckets: prometheus.LinearBuckets(1, 5, 12),
	}, []string{"workflow"})
	collapsed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantnet_workflow_collapsed_total",
		Help: "Total number of workflow calls that inverted a recent call",
	}, []string{"workflow"})
	registry.MustRegister(callTimer, polls, collapsed)
	return Monitor{callTimer: callTimer, polls: polls, collapsed: collapsed}
}

func (m Monitor) observe(workflow string, res Result, start time.Time) {
	if m.callTimer != nil {
		m.callTimer.
			WithLabelValues(workflow, res.Outcome.String()).
			Observe(time.Since(start).Seconds())
	}
	if m.polls != nil {
		m.polls.WithLabelValues(workflow).Observe(float64(res.Polls))
	}
}

func (m Monitor) countCollapse(workflow string) {
	if m.collapsed != nil {
		m.collapsed.WithLabelValues(workflow).Inc()
	}
}
