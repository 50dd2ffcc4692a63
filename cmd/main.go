// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/allocator"
	"github.com/cobaltcore-dev/tenantnet/internal/api"
	"github.com/cobaltcore-dev/tenantnet/internal/automation"
	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	"github.com/cobaltcore-dev/tenantnet/internal/db"
	"github.com/cobaltcore-dev/tenantnet/internal/keystone"
	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
	"github.com/cobaltcore-dev/tenantnet/internal/neutron"
	"github.com/cobaltcore-dev/tenantnet/internal/orchestrator"
	"github.com/cobaltcore-dev/tenantnet/internal/task"
	"github.com/cobaltcore-dev/tenantnet/internal/workflow"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

// Run the prometheus metrics server for monitoring.
func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	slog.Info("metrics listening", "port", config.Port)
	return httpext.ListenAndServeContext(ctx, fmt.Sprintf(":%d", config.Port), mux)
}

// Pick the neutron adapter if keystone is configured.
func newFramework(ctx context.Context, config conf.Config) neutron.Framework {
	keystoneConf := config.GetKeystoneConfig()
	if keystoneConf.URL == "" {
		slog.Warn("no keystone configured, segment notifications are disabled")
		return neutron.NewNoopFramework()
	}
	n := neutron.NewNeutron(keystone.NewKeystoneAPI(keystoneConf), config.GetNeutronConfig())
	must.Succeed(n.Init(ctx))
	return n
}

func main() {
	// If called with `--version`, report version and exit (the Dockerfile
	// uses this to check if the binary was built correctly)
	bininfo.HandleVersionArgument()

	config := conf.NewConfig()
	must.Succeed(config.Validate())
	config.GetLoggingConfig().SetDefaultLogger()

	// Set runtime concurrency to match CPU limit imposed by Kubernetes
	undoMaxprocs := must.Return(maxprocs.Set(maxprocs.Logger(slog.Debug)))
	defer undoMaxprocs()

	// Override User-Agent header for all requests made by this process.
	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetOverrideUserAgent(bininfo.Component(), bininfo.VersionOr("rolling"))

	// This context will gracefully shutdown when the process receives the
	// standard shutdown signal SIGINT, with a 10-second delay to allow
	// Kubernetes to stop sending new requests well before the process starts
	// to shut down.
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	registry := monitoring.NewRegistry(config.GetMonitoringConfig())
	dbMonitor := db.NewDBMonitor(registry)
	database := must.Return(db.New(config.GetDBConfig(), dbMonitor))
	defer database.Close()
	db.NewMigrater(database, dbMonitor).Migrate()

	controllerConf := config.GetControllerConfig()
	controller := must.Return(automation.NewClient(controllerConf, automation.NewClientMonitor(registry)))
	engine := workflow.NewEngine(
		controller,
		config.GetWorkflowConfig(),
		orchestrator.Inverses(controllerConf.Workflows),
		workflow.NewEngineMonitor(registry),
	)
	alloc := allocator.NewAllocator(database, allocator.NewAllocatorMonitor(registry))
	events := mqtt.NewPublisher(config.GetMQTTConfig(), mqtt.NewMQTTMonitor(registry))
	defer events.Disconnect()

	o := orchestrator.New(orchestrator.Dependencies{
		Store:      bindings.NewStore(database, bindings.NewStoreMonitor(registry)),
		Registry:   workflow.NewRegistry(),
		Engine:     engine,
		Controller: controller,
		Framework:  newFramework(ctx, config),
		Allocator:  alloc,
		Events:     events,
		Monitor:    orchestrator.NewOrchestratorMonitor(registry),
	}, controllerConf, config.GetAllocatorConfig())

	mux := http.NewServeMux()
	api.NewAPI(config.GetAPIConfig(), o, alloc, controller, api.NewAPIMonitor(registry)).Init(mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runMonitoringServer(ctx, registry, config.GetMonitoringConfig()) })
	segmentRetries := &task.Runner{
		Name:     "segment-notification-retry",
		Interval: config.GetNeutronConfig().RetryInterval(),
		Run: func(ctx context.Context) error {
			n, err := o.RetrySegmentNotifications(ctx)
			if n > 0 {
				slog.Info("retried segment notifications", "notified", n)
			}
			return err
		},
	}
	g.Go(func() error { return segmentRetries.Start(ctx) })
	g.Go(func() error {
		// Run the api server after all http handlers have been registered.
		addr := fmt.Sprintf(":%d", config.GetAPIConfig().Port)
		slog.Info("api listening", "port", config.GetAPIConfig().Port)
		return httpext.ListenAndServeContext(ctx, addr, mux)
	})
	must.Succeed(g.Wait())
}
