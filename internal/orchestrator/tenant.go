// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/tenantnet/internal/automation"
	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
)

const (
	kindTenant        = "tenant"
	kindTenantNetwork = "tenant-network"
)

// Create the tenant on the controller unless the record says it exists.
func (o *Orchestrator) ensureTenant(ctx context.Context, p *op) error {
	if p.rec.TenantCreated {
		return nil
	}
	err := o.Controller.CreateTenant(ctx, p.rec.ControllerTenantID, p.rec.TenantID)
	var statusErr *automation.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict:
		slog.Info("orchestrator: tenant already exists on controller", "tenant", p.rec.TenantID)
	case err != nil:
		return fmt.Errorf("%s: failed to create tenant: %w", p.name, err)
	}
	p.rec.TenantCreated = true
	if err := o.save(ctx, p); err != nil {
		return err
	}
	o.publish(p, kindTenant, mqtt.ActionCreated, p.rec.ControllerTenantID)
	return nil
}

// Create the tenant network unless the record says it exists.
func (o *Orchestrator) ensureTenantNetwork(ctx context.Context, p *op) error {
	if err := o.ensureTenant(ctx, p); err != nil {
		return err
	}
	if p.rec.TenantNetworkCreated {
		return nil
	}
	_, err := o.call(ctx, p, o.workflows.TenantNetworkCreate, kindTenantNetwork, map[string]any{}, map[string]any{})
	if err != nil {
		return err
	}
	p.rec.TenantNetworkCreated = true
	if err := o.save(ctx, p); err != nil {
		return err
	}
	o.publish(p, kindTenantNetwork, mqtt.ActionCreated, p.rec.ControllerTenantID)
	return nil
}

// Tear down the tenant network once no vlan is left, and the tenant
// once no resource is left. The binding is deleted with the tenant.
func (o *Orchestrator) releaseTenant(ctx context.Context, p *op) error {
	if p.rec.TenantNetworkCreated && bindings.CountActiveVLANs(p.rec) == 0 {
		_, err := o.call(ctx, p, o.workflows.TenantNetworkDelete, kindTenantNetwork, map[string]any{}, map[string]any{})
		if err != nil {
			return err
		}
		p.rec.TenantNetworkCreated = false
		if err := o.save(ctx, p); err != nil {
			return err
		}
		o.publish(p, kindTenantNetwork, mqtt.ActionDeleted, p.rec.ControllerTenantID)
	}
	if bindings.HasTenantResources(p.rec) {
		return nil
	}
	if p.rec.TenantCreated {
		// Best effort: a tenant left behind on the controller is empty
		// and gets reused by the next create.
		if err := o.Controller.DeleteTenant(ctx, p.rec.ControllerTenantID); err != nil {
			slog.Warn("orchestrator: failed to delete tenant on controller, ignoring",
				"tenant", p.rec.TenantID, "error", err)
		} else {
			o.publish(p, kindTenant, mqtt.ActionDeleted, p.rec.ControllerTenantID)
		}
		p.rec.TenantCreated = false
	}
	if _, err := o.Store.Delete(ctx, p.rec.TenantID); err != nil {
		return fmt.Errorf("failed to delete binding of %s: %w", p.rec.TenantID, err)
	}
	p.stored = false
	o.Registry.Evict(p.rec.TenantID)
	slog.Info("orchestrator: tenant released", "tenant", p.rec.TenantID)
	return nil
}

// Binding record of the tenant.
func (o *Orchestrator) Binding(ctx context.Context, tenantID string) (rec bindings.Record, err error) {
	p, err := o.begin(ctx, "get_binding", tenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()
	if err := o.requireRecord(p); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}

// Add an empty binding for the tenant, or the given one.
// The bool is false if the tenant already has a binding.
func (o *Orchestrator) AddBinding(ctx context.Context, rec bindings.Record) (ok bool, err error) {
	p, err := o.begin(ctx, "add_binding", rec.TenantID)
	if err != nil {
		return false, err
	}
	defer func() { o.end(p, err) }()
	return o.Store.Add(ctx, rec)
}

// Replace the binding of the tenant.
// The bool is false if the tenant has no binding.
func (o *Orchestrator) SetBinding(ctx context.Context, rec bindings.Record) (ok bool, err error) {
	p, err := o.begin(ctx, "set_binding", rec.TenantID)
	if err != nil {
		return false, err
	}
	defer func() { o.end(p, err) }()
	return o.Store.Set(ctx, rec)
}

// Delete the binding of the tenant without touching remote state.
// The bool is false if the tenant has no binding.
func (o *Orchestrator) DeleteBinding(ctx context.Context, tenantID string) (ok bool, err error) {
	p, err := o.begin(ctx, "delete_binding", tenantID)
	if err != nil {
		return false, err
	}
	defer func() { o.end(p, err) }()
	ok, err = o.Store.Delete(ctx, tenantID)
	if err == nil && ok {
		o.Registry.Evict(tenantID)
	}
	return ok, err
}
