// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	connectionAttempts prometheus.Counter
	publishFailures    prometheus.Counter
}

func NewMQTTMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantnet_mqtt_connection_attempts_total",
		Help: "Total number of attempts to connect to the MQTT broker",
	})
	publishFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantnet_mqtt_publish_failures_total",
		Help: "Total number of lifecycle events that could not be published",
	})
	registry.MustRegister(connectionAttempts, publishFailures)
	return Monitor{
		connectionAttempts: connectionAttempts,
		publishFailures:    publishFailures,
	}
}
