// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	// Free ids per firewall instance.
	freeSlots *prometheus.GaugeVec
	// Allocations by result.
	allocations *prometheus.CounterVec
}

func NewAllocatorMonitor(registry *monitoring.Registry) Monitor {
	freeSlots := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tenantnet_allocator_free_ids",
		Help: "Number of free ids per firewall instance",
	}, []string{"instance"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantnet_allocator_allocations_total",
		Help: "Total number of id allocations by result",
	}, []string{"result"})
	registry.MustRegister(freeSlots, allocations)
	return Monitor{freeSlots: freeSlots, allocations: allocations}
}

func (m Monitor) setFree(instance string, n int) {
	if m.freeSlots != nil {
		m.freeSlots.WithLabelValues(instance).Set(float64(n))
	}
}

func (m Monitor) deleteFree(instance string) {
	if m.freeSlots != nil {
		m.freeSlots.DeleteLabelValues(instance)
	}
}

func (m Monitor) countAllocation(result string) {
	if m.allocations != nil {
		m.allocations.WithLabelValues(result).Inc()
	}
}
