// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	// A histogram to measure how long the api requests take to run.
	apiRequestsTimer *prometheus.HistogramVec
}

func NewAPIMonitor(registry *monitoring.Registry) Monitor {
	apiRequestsTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantnet_api_request_duration_seconds",
		Help:    "Duration of api requests",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"method", "path", "status"})
	registry.MustRegister(apiRequestsTimer)
	return Monitor{apiRequestsTimer: apiRequestsTimer}
}
