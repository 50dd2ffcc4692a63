// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log/slog"

	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
)

const kindNAT = "nat"

// A floating ip mapping on a tenant firewall.
type NATRequest struct {
	TenantID           string `json:"-"`
	ControllerTenantID string `json:"controller_tenant"`
	// Id of the floating ip.
	ID         string `json:"id"`
	FloatingIP string `json:"floating_ip"`
	FixedIP    string `json:"fixed_ip"`
	PortID     string `json:"port"`
	// Suffix of the firewall the mapping lives on.
	Firewall string `json:"firewall"`
}

func natObject(id string) string { return kindNAT + ":" + id }

func natIdentity(id string) map[string]any { return map[string]any{"id": id} }

func (r NATRequest) nat() bindings.NAT {
	return bindings.NAT{FloatingIP: r.FloatingIP, FixedIP: r.FixedIP, PortID: r.PortID, Firewall: r.Firewall}
}

// Map a floating ip to a fixed ip on an existing tenant firewall.
func (o *Orchestrator) CreateNAT(ctx context.Context, req NATRequest) (rec bindings.Record, err error) {
	const name = "create_nat"
	if req.ID == "" || req.FloatingIP == "" || req.FixedIP == "" || req.Firewall == "" {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "id, floating ip, fixed ip and firewall are required")
	}
	p, err := o.begin(ctx, name, req.TenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()

	if existing, ok := p.rec.NATs[req.ID]; ok {
		if existing != req.nat() {
			return bindings.Record{}, driverError(name, ErrAlreadyExists,
				"floating ip %s is already mapped to %s", req.ID, existing.FixedIP)
		}
		slog.Warn("orchestrator: nat rule already exists", "tenant", req.TenantID, "id", req.ID)
		return p.rec, nil
	}
	fw, ok := p.rec.Firewalls[req.Firewall]
	if !ok {
		return bindings.Record{}, driverError(name, ErrNotFound, "tenant firewall %s does not exist", req.Firewall)
	}
	_, err = o.call(ctx, p, o.workflows.NATCreate, natObject(req.ID), natIdentity(req.ID), map[string]any{
		"id":          req.ID,
		"floating_ip": req.FloatingIP,
		"fixed_ip":    req.FixedIP,
		"port":        req.PortID,
		"firewall":    fw.DeviceName,
	})
	if err != nil {
		return bindings.Record{}, err
	}
	p.rec.NATs[req.ID] = req.nat()
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	o.publish(p, kindNAT, mqtt.ActionCreated, req.ID)
	return p.rec, nil
}

// Remove a floating ip mapping.
func (o *Orchestrator) DeleteNAT(ctx context.Context, tenantID, id string) (rec bindings.Record, err error) {
	p, err := o.begin(ctx, "delete_nat", tenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()
	if err := o.requireRecord(p); err != nil {
		return bindings.Record{}, err
	}
	n, ok := p.rec.NATs[id]
	if !ok {
		return bindings.Record{}, driverError(p.name, ErrNotFound, "floating ip %s is not mapped", id)
	}
	_, err = o.call(ctx, p, o.workflows.NATDelete, natObject(id), natIdentity(id), map[string]any{
		"id":          id,
		"floating_ip": n.FloatingIP,
		"fixed_ip":    n.FixedIP,
		"port":        n.PortID,
		"firewall":    p.rec.Firewalls[n.Firewall].DeviceName,
	})
	if err != nil {
		return bindings.Record{}, err
	}
	delete(p.rec.NATs, id)
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	o.publish(p, kindNAT, mqtt.ActionDeleted, id)
	if err := o.releaseTenant(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}
