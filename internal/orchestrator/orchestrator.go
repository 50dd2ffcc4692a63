// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/allocator"
	"github.com/cobaltcore-dev/tenantnet/internal/automation"
	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
	"github.com/cobaltcore-dev/tenantnet/internal/neutron"
	"github.com/cobaltcore-dev/tenantnet/internal/workflow"
)

// Executes workflow calls for a locked tenant.
type Executor interface {
	Execute(ctx context.Context, h *workflow.Handle, call workflow.Call) (workflow.Result, error)
}

// Collaborators of the orchestrator.
type Dependencies struct {
	Store      bindings.Store
	Registry   *workflow.Registry
	Engine     Executor
	Controller automation.Client
	Framework  neutron.Framework
	Allocator  allocator.Allocator
	Events     mqtt.Publisher
	Monitor    Monitor
}

// Create/delete state machines for all tenant resources.
//
// Every public operation holds the tenant lock for its whole duration,
// reads the binding record, and persists it after every step that
// changed remote state. A failed step leaves the record as it was after
// the last successful step, so the same request can be retried.
type Orchestrator struct {
	Dependencies
	workflows conf.WorkflowNames
	// Reserved datacenter resource per load balancer type.
	reserved map[string]string
	// Size of the id pool of a new tenant firewall.
	poolSize int
}

func New(deps Dependencies, controller conf.ControllerConfig, alloc conf.AllocatorConfig) *Orchestrator {
	if deps.Events == nil {
		deps.Events = mqtt.NewPublisher(conf.MQTTConfig{}, mqtt.Monitor{})
	}
	if deps.Framework == nil {
		deps.Framework = neutron.NewNoopFramework()
	}
	return &Orchestrator{
		Dependencies: deps,
		workflows:    controller.Workflows,
		reserved:     controller.ReservedResources,
		poolSize:     alloc.MaxIndex,
	}
}

// Inverse pairs of the configured workflows, for the engine history.
func Inverses(w conf.WorkflowNames) map[string]string {
	return workflow.Inverses(
		[2]string{w.TenantNetworkCreate, w.TenantNetworkDelete},
		[2]string{w.VLANCreate, w.VLANDelete},
		[2]string{w.DeviceAttach, w.DeviceDetach},
		[2]string{w.FirewallCreate, w.FirewallDelete},
		[2]string{w.LoadBalancerCreate, w.LoadBalancerDelete},
		[2]string{w.NATCreate, w.NATDelete},
		[2]string{w.PolicyCreate, w.PolicyDelete},
	)
}

// State of one running operation.
type op struct {
	name   string
	handle *workflow.Handle
	rec    bindings.Record
	// Whether a binding record exists in the store.
	stored bool
	start  time.Time
}

// Lock the tenant and load its record.
func (o *Orchestrator) begin(ctx context.Context, name, tenantID string) (*op, error) {
	if tenantID == "" {
		return nil, driverError(name, ErrInvalidRequest, "tenant id is required")
	}
	h, err := o.Registry.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rec, ok, err := o.Store.Get(ctx, tenantID)
	if err != nil {
		h.Release()
		return nil, fmt.Errorf("failed to read binding of %s: %w", tenantID, err)
	}
	if !ok {
		rec = bindings.NewRecord(tenantID, "")
	}
	return &op{name: name, handle: h, rec: rec, stored: ok, start: time.Now()}, nil
}

// Release the tenant lock and record the result.
func (o *Orchestrator) end(p *op, err error) {
	p.handle.Release()
	o.Monitor.observe(p.name, err, p.start)
}

// Make sure a binding record exists for a create operation.
func (o *Orchestrator) ensureRecord(ctx context.Context, p *op, controllerTenantID string) error {
	if p.stored {
		return nil
	}
	if controllerTenantID == "" {
		return driverError(p.name, ErrInvalidRequest, "controller tenant id is required for a new tenant")
	}
	p.rec.ControllerTenantID = controllerTenantID
	ok, err := o.Store.Add(ctx, p.rec)
	if err != nil {
		return fmt.Errorf("failed to add binding of %s: %w", p.rec.TenantID, err)
	}
	if !ok {
		return fmt.Errorf("binding of %s was added concurrently", p.rec.TenantID)
	}
	p.stored = true
	return nil
}

// Require an existing binding record for a delete operation.
func (o *Orchestrator) requireRecord(p *op) error {
	if !p.stored {
		return driverError(p.name, ErrNotFound, "tenant %s has no binding", p.rec.TenantID)
	}
	return nil
}

// Persist the record after a step.
func (o *Orchestrator) save(ctx context.Context, p *op) error {
	ok, err := o.Store.Set(ctx, p.rec)
	if err != nil {
		return fmt.Errorf("failed to persist binding of %s: %w", p.rec.TenantID, err)
	}
	if !ok {
		return fmt.Errorf("binding of %s vanished during %s", p.rec.TenantID, p.name)
	}
	return nil
}

// Run a workflow for the tenant of the operation. The identity names the
// resource and must be equal for a create and its delete.
func (o *Orchestrator) call(ctx context.Context, p *op, name, object string, identity, params map[string]any) (workflow.Result, error) {
	params["tenant"] = p.rec.ControllerTenantID
	identity["tenant"] = p.rec.ControllerTenantID
	res, err := o.Engine.Execute(ctx, p.handle, workflow.Call{Name: name, Object: object, Identity: identity, Params: params})
	if err != nil {
		return res, fmt.Errorf("%s: %w", p.name, err)
	}
	return res, nil
}

func (o *Orchestrator) publish(p *op, kind string, action mqtt.Action, resource string) {
	mqtt.PublishEvent(o.Events, mqtt.Event{
		Tenant:   p.rec.TenantID,
		Kind:     kind,
		Action:   action,
		Resource: resource,
	})
}

// Result data fields the controller returns for provisioned objects.
type provisioned struct {
	VLANID      int    `json:"vlan_id"`
	LogicalName string `json:"logical_name"`
	DeviceName  string `json:"device_name"`
}

func decodeProvisioned(p *op, res workflow.Result) provisioned {
	var data provisioned
	if len(res.ResultData) == 0 {
		return data
	}
	if err := res.Decode(&data); err != nil {
		slog.Warn("orchestrator: unexpected workflow result data",
			"tenant", p.rec.TenantID, "op", p.name, "error", err)
	}
	return data
}
