// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"

	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
)

const kindLoadBalancer = "loadbalancer"

// A vip on a load balancer of the given type.
type VIPRequest struct {
	TenantID           string `json:"-"`
	ControllerTenantID string `json:"controller_tenant"`
	// Load balancer type, e.g. "standalone" or "ha".
	Type      string `json:"-"`
	VIPID     string `json:"vip"`
	NetworkID string `json:"network"`
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
}

func loadBalancerObject(lbType string) string { return kindLoadBalancer + ":" + lbType }

func loadBalancerIdentity(lbType string) map[string]any { return map[string]any{"type": lbType} }

// Policies that live on load balancers.
func hasLoadBalancerPolicies(r bindings.Record) bool {
	for key := range r.Policies {
		switch key.Type {
		case bindings.PolicyPool, bindings.PolicyVIP, bindings.PolicyMember, bindings.PolicyHealthMonitor:
			return true
		}
	}
	return false
}

// Add a vip to the load balancer of the type. The first vip creates
// the load balancer, further vips only connect to it.
func (o *Orchestrator) AddVIP(ctx context.Context, req VIPRequest) (rec bindings.Record, err error) {
	const name = "add_vip"
	if req.Type == "" || req.VIPID == "" || req.NetworkID == "" {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "type, vip and network are required")
	}
	p, err := o.begin(ctx, name, req.TenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()

	key := bindings.AttachmentKey{DeviceID: req.VIPID, NetworkID: req.NetworkID}
	if a, ok := p.rec.Attachments[key]; ok {
		if a.Owner != bindings.OwnerLoadBalancer || a.Parent != req.Type {
			return bindings.Record{}, driverError(name, ErrAlreadyExists,
				"%s on %s is owned by %s %s", req.VIPID, req.NetworkID, a.Owner, a.Parent)
		}
		return p.rec, nil
	}
	if err := o.ensureRecord(ctx, p, req.ControllerTenantID); err != nil {
		return bindings.Record{}, err
	}
	if err := o.ensureVLAN(ctx, p, req.NetworkID, bindings.OwnerLoadBalancer); err != nil {
		return bindings.Record{}, err
	}

	connect := o.interfaceAction(p, actionConnect, req.VIPID, req.NetworkID, req.IP, req.MAC)
	if _, exists := p.rec.LoadBalancers[req.Type]; exists {
		_, err := o.call(ctx, p, o.workflows.LoadBalancerUpdate, loadBalancerObject(req.Type), loadBalancerIdentity(req.Type), map[string]any{
			"type":    req.Type,
			"actions": []map[string]any{connect},
		})
		if err != nil {
			return bindings.Record{}, err
		}
		o.publish(p, kindLoadBalancer, mqtt.ActionUpdated, req.Type)
	} else {
		params := map[string]any{
			"type":    req.Type,
			"actions": []map[string]any{connect},
		}
		if reserved, ok := o.reserved[req.Type]; ok {
			params["reserved_resource"] = reserved
		}
		res, err := o.call(ctx, p, o.workflows.LoadBalancerCreate, loadBalancerObject(req.Type), loadBalancerIdentity(req.Type), params)
		if err != nil {
			return bindings.Record{}, err
		}
		p.rec.LoadBalancers[req.Type] = bindings.LoadBalancer{DeviceName: decodeProvisioned(p, res).DeviceName}
		o.publish(p, kindLoadBalancer, mqtt.ActionCreated, req.Type)
	}
	p.rec.Attachments[key] = bindings.Attachment{
		Owner:  bindings.OwnerLoadBalancer,
		Parent: req.Type,
		IP:     req.IP,
		MAC:    req.MAC,
	}
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}

// Remove a vip. The last vip of a type deletes its load balancer. The
// last vip of the tenant may only go once no load balancer policies
// are left.
func (o *Orchestrator) RemoveVIP(ctx context.Context, tenantID, lbType, vipID, networkID string) (rec bindings.Record, err error) {
	p, err := o.begin(ctx, "remove_vip", tenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()
	if err := o.requireRecord(p); err != nil {
		return bindings.Record{}, err
	}

	key := bindings.AttachmentKey{DeviceID: vipID, NetworkID: networkID}
	if a, ok := p.rec.Attachments[key]; ok {
		if a.Owner != bindings.OwnerLoadBalancer || a.Parent != lbType {
			return bindings.Record{}, driverError(p.name, ErrNotFound,
				"%s on %s is not a vip of load balancer %s", vipID, networkID, lbType)
		}
		disconnect := o.interfaceAction(p, actionDisconnect, vipID, networkID, a.IP, a.MAC)
		if bindings.CountLoadBalancerVIPs(p.rec, lbType) > 1 {
			_, err := o.call(ctx, p, o.workflows.LoadBalancerUpdate, loadBalancerObject(lbType), loadBalancerIdentity(lbType), map[string]any{
				"type":    lbType,
				"actions": []map[string]any{disconnect},
			})
			if err != nil {
				return bindings.Record{}, err
			}
			o.publish(p, kindLoadBalancer, mqtt.ActionUpdated, lbType)
		} else {
			if bindings.CountAllLoadBalancerVIPs(p.rec) == 1 && hasLoadBalancerPolicies(p.rec) {
				return bindings.Record{}, driverError(p.name, ErrInUse,
					"load balancer %s still has policies", lbType)
			}
			_, err := o.call(ctx, p, o.workflows.LoadBalancerDelete, loadBalancerObject(lbType), loadBalancerIdentity(lbType), map[string]any{
				"type":    lbType,
				"actions": []map[string]any{disconnect},
			})
			if err != nil {
				return bindings.Record{}, err
			}
			delete(p.rec.LoadBalancers, lbType)
			o.publish(p, kindLoadBalancer, mqtt.ActionDeleted, lbType)
		}
		delete(p.rec.Attachments, key)
		if err := o.save(ctx, p); err != nil {
			return bindings.Record{}, err
		}
	}
	if err := o.releaseVLAN(ctx, p, networkID, bindings.OwnerLoadBalancer); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}
