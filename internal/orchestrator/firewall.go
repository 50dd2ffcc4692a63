// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cobaltcore-dev/tenantnet/internal/allocator"
	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
)

const kindFirewall = "firewall"

// Actions of a firewall or load balancer update workflow.
const (
	actionConnect    = "connect"
	actionDisconnect = "disconnect"
)

// A network interface of a tenant firewall.
type InterfaceRequest struct {
	TenantID           string `json:"-"`
	ControllerTenantID string `json:"controller_tenant"`
	// Suffix identifying the firewall within the tenant.
	Firewall  string `json:"-"`
	PortID    string `json:"port"`
	NetworkID string `json:"network"`
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
}

func firewallObject(suffix string) string { return kindFirewall + ":" + suffix }

func firewallIdentity(suffix string) map[string]any { return map[string]any{"firewall": suffix} }

// Name of the firewall instance on the controller, which also scopes
// its id pool.
func FirewallInstance(tenantID, suffix string) string {
	return tenantID + "-" + suffix
}

func (o *Orchestrator) interfaceAction(p *op, action, portID, networkID, ip, mac string) map[string]any {
	network := p.rec.Networks[networkID]
	return map[string]any{
		"action":       action,
		"port":         portID,
		"network":      networkID,
		"logical_name": network.LogicalName,
		"vlan":         network.VLANID,
		"ip":           ip,
		"mac":          mac,
	}
}

// Connect a network to a tenant firewall. The first interface creates
// the firewall and its id pool.
func (o *Orchestrator) AddFirewallInterface(ctx context.Context, req InterfaceRequest) (rec bindings.Record, err error) {
	const name = "add_firewall_interface"
	if req.Firewall == "" || req.PortID == "" || req.NetworkID == "" {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "firewall, port and network are required")
	}
	p, err := o.begin(ctx, name, req.TenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()

	key := bindings.AttachmentKey{DeviceID: req.PortID, NetworkID: req.NetworkID}
	if a, ok := p.rec.Attachments[key]; ok {
		if a.Owner != bindings.OwnerFirewall || a.Parent != req.Firewall {
			return bindings.Record{}, driverError(name, ErrAlreadyExists,
				"%s on %s is owned by %s %s", req.PortID, req.NetworkID, a.Owner, a.Parent)
		}
		return p.rec, nil
	}
	if err := o.ensureRecord(ctx, p, req.ControllerTenantID); err != nil {
		return bindings.Record{}, err
	}
	if err := o.ensureVLAN(ctx, p, req.NetworkID, bindings.OwnerFirewall); err != nil {
		return bindings.Record{}, err
	}

	connect := o.interfaceAction(p, actionConnect, req.PortID, req.NetworkID, req.IP, req.MAC)
	if _, exists := p.rec.Firewalls[req.Firewall]; exists {
		_, err := o.call(ctx, p, o.workflows.FirewallUpdate, firewallObject(req.Firewall), firewallIdentity(req.Firewall), map[string]any{
			"firewall": req.Firewall,
			"actions":  []map[string]any{connect},
		})
		if err != nil {
			return bindings.Record{}, err
		}
		o.publish(p, kindFirewall, mqtt.ActionUpdated, req.Firewall)
	} else {
		instance := FirewallInstance(p.rec.TenantID, req.Firewall)
		res, err := o.call(ctx, p, o.workflows.FirewallCreate, firewallObject(req.Firewall), firewallIdentity(req.Firewall), map[string]any{
			"firewall": req.Firewall,
			"instance": instance,
			"actions":  []map[string]any{connect},
		})
		if err != nil {
			return bindings.Record{}, err
		}
		deviceName := decodeProvisioned(p, res).DeviceName
		if deviceName == "" {
			deviceName = instance
		}
		p.rec.Firewalls[req.Firewall] = bindings.Firewall{DeviceName: deviceName}
		if o.Allocator != nil {
			err := o.Allocator.CreatePool(ctx, instance, o.poolSize)
			if err != nil && !errors.Is(err, allocator.ErrPoolExists) {
				// The firewall exists remotely, so it is recorded anyway.
				slog.Error("orchestrator: failed to create firewall id pool",
					"tenant", p.rec.TenantID, "instance", instance, "error", err)
			}
		}
		o.publish(p, kindFirewall, mqtt.ActionCreated, req.Firewall)
	}
	p.rec.Attachments[key] = bindings.Attachment{
		Owner:  bindings.OwnerFirewall,
		Parent: req.Firewall,
		IP:     req.IP,
		MAC:    req.MAC,
	}
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}

// Disconnect a network from a tenant firewall. The last interface
// deletes the firewall, which must not carry nat rules anymore.
func (o *Orchestrator) RemoveFirewallInterface(ctx context.Context, tenantID, suffix, portID, networkID string) (rec bindings.Record, err error) {
	p, err := o.begin(ctx, "remove_firewall_interface", tenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()
	if err := o.requireRecord(p); err != nil {
		return bindings.Record{}, err
	}

	key := bindings.AttachmentKey{DeviceID: portID, NetworkID: networkID}
	if a, ok := p.rec.Attachments[key]; ok {
		if a.Owner != bindings.OwnerFirewall || a.Parent != suffix {
			return bindings.Record{}, driverError(p.name, ErrNotFound,
				"%s on %s is not an interface of firewall %s", portID, networkID, suffix)
		}
		disconnect := o.interfaceAction(p, actionDisconnect, portID, networkID, a.IP, a.MAC)
		if bindings.CountFirewallInterfaces(p.rec, suffix) > 1 {
			_, err := o.call(ctx, p, o.workflows.FirewallUpdate, firewallObject(suffix), firewallIdentity(suffix), map[string]any{
				"firewall": suffix,
				"actions":  []map[string]any{disconnect},
			})
			if err != nil {
				return bindings.Record{}, err
			}
			delete(p.rec.Attachments, key)
			o.publish(p, kindFirewall, mqtt.ActionUpdated, suffix)
		} else {
			if n := bindings.CountNATsOnFirewall(p.rec, suffix); n > 0 {
				return bindings.Record{}, driverError(p.name, ErrInUse,
					"firewall %s still has %d nat rules", suffix, n)
			}
			if err := o.deleteFirewall(ctx, p, suffix, disconnect); err != nil {
				return bindings.Record{}, err
			}
			delete(p.rec.Attachments, key)
		}
		if err := o.save(ctx, p); err != nil {
			return bindings.Record{}, err
		}
	}
	if err := o.releaseVLAN(ctx, p, networkID, bindings.OwnerFirewall); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}

func (o *Orchestrator) deleteFirewall(ctx context.Context, p *op, suffix string, disconnect map[string]any) error {
	instance := FirewallInstance(p.rec.TenantID, suffix)
	_, err := o.call(ctx, p, o.workflows.FirewallDelete, firewallObject(suffix), firewallIdentity(suffix), map[string]any{
		"firewall": suffix,
		"instance": instance,
		"actions":  []map[string]any{disconnect},
	})
	if err != nil {
		return err
	}
	delete(p.rec.Firewalls, suffix)
	if o.Allocator != nil {
		if err := o.Allocator.DestroyPool(ctx, instance); err != nil {
			slog.Error("orchestrator: failed to destroy firewall id pool",
				"tenant", p.rec.TenantID, "instance", instance, "error", err)
		}
	}
	o.publish(p, kindFirewall, mqtt.ActionDeleted, suffix)
	return nil
}

// Move a firewall interface to another network with a single update.
func (o *Orchestrator) MoveFirewallInterface(ctx context.Context, req InterfaceRequest, fromNetworkID string) (rec bindings.Record, err error) {
	const name = "move_firewall_interface"
	if req.Firewall == "" || req.PortID == "" || req.NetworkID == "" || fromNetworkID == "" {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "firewall, port and both networks are required")
	}
	p, err := o.begin(ctx, name, req.TenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()
	if err := o.requireRecord(p); err != nil {
		return bindings.Record{}, err
	}

	from := bindings.AttachmentKey{DeviceID: req.PortID, NetworkID: fromNetworkID}
	to := bindings.AttachmentKey{DeviceID: req.PortID, NetworkID: req.NetworkID}
	target, occupied := p.rec.Attachments[to]
	if occupied && (target.Owner != bindings.OwnerFirewall || target.Parent != req.Firewall) {
		return bindings.Record{}, driverError(name, ErrAlreadyExists,
			"%s on %s is owned by %s %s", req.PortID, req.NetworkID, target.Owner, target.Parent)
	}
	a, ok := p.rec.Attachments[from]
	if !ok || a.Owner != bindings.OwnerFirewall || a.Parent != req.Firewall {
		if occupied {
			// Resume a move whose source release failed.
			if err := o.releaseVLAN(ctx, p, fromNetworkID, bindings.OwnerFirewall); err != nil {
				return bindings.Record{}, err
			}
			return p.rec, nil
		}
		return bindings.Record{}, driverError(name, ErrNotFound,
			"%s on %s is not an interface of firewall %s", req.PortID, fromNetworkID, req.Firewall)
	}
	if err := o.ensureVLAN(ctx, p, req.NetworkID, bindings.OwnerFirewall); err != nil {
		return bindings.Record{}, err
	}
	ip, mac := req.IP, req.MAC
	if ip == "" {
		ip = a.IP
	}
	if mac == "" {
		mac = a.MAC
	}
	_, err = o.call(ctx, p, o.workflows.FirewallUpdate, firewallObject(req.Firewall), firewallIdentity(req.Firewall), map[string]any{
		"firewall": req.Firewall,
		"actions": []map[string]any{
			o.interfaceAction(p, actionDisconnect, req.PortID, fromNetworkID, a.IP, a.MAC),
			o.interfaceAction(p, actionConnect, req.PortID, req.NetworkID, ip, mac),
		},
	})
	if err != nil {
		return bindings.Record{}, err
	}
	delete(p.rec.Attachments, from)
	p.rec.Attachments[to] = bindings.Attachment{Owner: bindings.OwnerFirewall, Parent: req.Firewall, IP: ip, MAC: mac}
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	o.publish(p, kindFirewall, mqtt.ActionUpdated, req.Firewall)
	if err := o.releaseVLAN(ctx, p, fromNetworkID, bindings.OwnerFirewall); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}
