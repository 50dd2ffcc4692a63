// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package bindings

import (
	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	// Durations of binding store operations by op and result.
	opsTimer *prometheus.HistogramVec
}

func NewStoreMonitor(registry *monitoring.Registry) Monitor {
	opsTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantnet_bindings_store_op_duration_seconds",
		Help:    "Duration of binding store operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"op", "result"})
	registry.MustRegister(opsTimer)
	return Monitor{opsTimer: opsTimer}
}
