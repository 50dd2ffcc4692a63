// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"errors"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/cobaltcore-dev/tenantnet/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	// Durations of orchestration operations by op and result.
	opsTimer *prometheus.HistogramVec
	// Segment notifications sent to the framework by result.
	segmentNotifications *prometheus.CounterVec
}

func NewOrchestratorMonitor(registry *monitoring.Registry) Monitor {
	opsTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantnet_orchestrator_op_duration_seconds",
		Help:    "Duration of orchestration operations including all workflow calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"op", "result"})
	segmentNotifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantnet_orchestrator_segment_notifications_total",
		Help: "Total number of vlan segment notifications sent to the framework",
	}, []string{"result"})
	registry.MustRegister(opsTimer, segmentNotifications)
	return Monitor{opsTimer: opsTimer, segmentNotifications: segmentNotifications}
}

// Label for the result of an operation.
func resultOf(err error) string {
	var driverErr *DriverError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &driverErr):
		return "rejected"
	case errors.Is(err, workflow.ErrFailed):
		return "failed"
	case errors.Is(err, workflow.ErrUnknownOutcome):
		return "unknown"
	default:
		return "error"
	}
}

func (m Monitor) observe(op string, err error, start time.Time) {
	if m.opsTimer == nil {
		return
	}
	m.opsTimer.
		WithLabelValues(op, resultOf(err)).
		Observe(time.Since(start).Seconds())
}

func (m Monitor) countSegmentNotification(ok bool) {
	if m.segmentNotifications == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.segmentNotifications.WithLabelValues(result).Inc()
}
