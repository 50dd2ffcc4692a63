// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	connectionAttempts prometheus.Counter
	migrationsExecuted prometheus.Counter
}

func NewDBMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantnet_db_connection_attempts_total",
		Help: "Total number of attempts to connect to the database",
	})
	migrationsExecuted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantnet_db_migrations_executed_total",
		Help: "Total number of executed database migrations",
	})
	registry.MustRegister(connectionAttempts, migrationsExecuted)
	return Monitor{
		connectionAttempts: connectionAttempts,
		migrationsExecuted: migrationsExecuted,
	}
}
