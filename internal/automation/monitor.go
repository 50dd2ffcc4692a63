// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package automation

import (
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	// Durations of http requests against the controller.
	requestTimer *prometheus.HistogramVec
}

func NewClientMonitor(registry *monitoring.Registry) Monitor {
	requestTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantnet_controller_request_duration_seconds",
		Help:    "Duration of http requests against the automation controller",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	registry.MustRegister(requestTimer)
	return Monitor{requestTimer: requestTimer}
}

func (m Monitor) observe(method, route, status string, start time.Time) {
	if m.requestTimer == nil {
		return
	}
	m.requestTimer.
		WithLabelValues(method, route, status).
		Observe(time.Since(start).Seconds())
}
