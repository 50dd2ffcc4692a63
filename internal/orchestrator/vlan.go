// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
)

const kindVLAN = "vlan"

func vlanObject(networkID string) string { return kindVLAN + ":" + networkID }

func vlanIdentity(networkID string) map[string]any { return map[string]any{"network": networkID} }

// Make sure the network has a vlan segment for the owner. The controller
// vlan of the network is shared between owners and only created once.
func (o *Orchestrator) ensureVLAN(ctx context.Context, p *op, networkID string, owner bindings.Owner) error {
	if bindings.HasSegmentOfKind(p.rec, networkID, owner) {
		return nil
	}
	if err := o.ensureTenantNetwork(ctx, p); err != nil {
		return err
	}
	key := bindings.VLANKey{NetworkID: networkID, Owner: owner}
	if vlanID, ok := bindings.NetworkHasVLAN(p.rec, networkID); ok {
		p.rec.VLANs[key] = bindings.VLAN{ID: vlanID, SegmentCreated: segmentNotified(p.rec, networkID)}
		slog.Info("orchestrator: reusing vlan of network",
			"tenant", p.rec.TenantID, "network", networkID, "owner", owner, "vlan", vlanID)
		return o.save(ctx, p)
	}

	network, ok := p.rec.Networks[networkID]
	if !ok {
		info, err := o.Framework.NetworkInfo(ctx, networkID)
		if err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
		network = bindings.Network{Name: info.Name, SubnetID: info.SubnetID, CIDR: info.CIDR}
	}
	res, err := o.call(ctx, p, o.workflows.VLANCreate, vlanObject(networkID), vlanIdentity(networkID), map[string]any{
		"network":      networkID,
		"network_name": network.Name,
		"subnet":       network.SubnetID,
		"cidr":         network.CIDR,
	})
	if err != nil {
		return err
	}
	data := decodeProvisioned(p, res)
	if data.VLANID == 0 {
		// The vlan exists remotely now but is unusable without its id,
		// and a retry provisions another one.
		slog.Error("orchestrator: controller returned no vlan id, vlan needs manual cleanup",
			"tenant", p.rec.TenantID, "network", networkID, "executionID", res.ExecutionID,
			"logicalName", data.LogicalName, "resultData", string(res.ResultData))
		return fmt.Errorf("%s: controller returned no vlan id for network %s (execution %s, logical name %q)",
			p.name, networkID, res.ExecutionID, data.LogicalName)
	}
	network.VLANCreated = true
	network.VLANID = data.VLANID
	network.LogicalName = data.LogicalName
	p.rec.Networks[networkID] = network
	p.rec.VLANs[key] = bindings.VLAN{ID: data.VLANID}
	if err := o.save(ctx, p); err != nil {
		return err
	}
	o.publish(p, kindVLAN, mqtt.ActionCreated, networkID)
	o.notifySegment(ctx, p, networkID)
	return nil
}

// Whether the framework already knows the segment of the network.
func segmentNotified(r bindings.Record, networkID string) bool {
	for key, v := range r.VLANs {
		if key.NetworkID == networkID && v.SegmentCreated {
			return true
		}
	}
	return false
}

// Tell the framework about the vlan of the network. A failure is
// retried later, see RetrySegmentNotifications.
func (o *Orchestrator) notifySegment(ctx context.Context, p *op, networkID string) bool {
	network := p.rec.Networks[networkID]
	if err := o.Framework.NotifySegment(ctx, networkID, network.VLANID); err != nil {
		slog.Warn("orchestrator: segment notification failed, will retry",
			"tenant", p.rec.TenantID, "network", networkID, "error", err)
		o.Monitor.countSegmentNotification(false)
		return false
	}
	for key, v := range p.rec.VLANs {
		if key.NetworkID == networkID {
			v.SegmentCreated = true
			p.rec.VLANs[key] = v
		}
	}
	if err := o.save(ctx, p); err != nil {
		slog.Warn("orchestrator: failed to persist segment notification",
			"tenant", p.rec.TenantID, "network", networkID, "error", err)
		return false
	}
	o.Monitor.countSegmentNotification(true)
	return true
}

// Drop the segment of the owner once it has no consumers. The
// controller vlan goes away with the last segment on the network.
// Continues with the tenant network and the tenant.
func (o *Orchestrator) releaseVLAN(ctx context.Context, p *op, networkID string, owner bindings.Owner) error {
	if bindings.HasSegmentOfKind(p.rec, networkID, owner) &&
		bindings.CountDevicesOnNetwork(p.rec, networkID, owner) == 0 {

		key := bindings.VLANKey{NetworkID: networkID, Owner: owner}
		if bindings.CountVLANsOnNetwork(p.rec, networkID) > 1 {
			delete(p.rec.VLANs, key)
			if err := o.save(ctx, p); err != nil {
				return err
			}
		} else {
			network := p.rec.Networks[networkID]
			_, err := o.call(ctx, p, o.workflows.VLANDelete, vlanObject(networkID), vlanIdentity(networkID), map[string]any{
				"network":      networkID,
				"logical_name": network.LogicalName,
				"vlan":         network.VLANID,
			})
			if err != nil {
				return err
			}
			delete(p.rec.VLANs, key)
			delete(p.rec.Networks, networkID)
			if err := o.save(ctx, p); err != nil {
				return err
			}
			o.publish(p, kindVLAN, mqtt.ActionDeleted, networkID)
		}
	}
	return o.releaseTenant(ctx, p)
}

// Retry the segment notifications that failed earlier. Returns the
// number of networks notified.
func (o *Orchestrator) RetrySegmentNotifications(ctx context.Context) (int, error) {
	tenants, err := o.Store.ListTenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	notified := 0
	var errs []error
	for _, tenantID := range tenants {
		n, err := o.retryTenantSegments(ctx, tenantID)
		notified += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return notified, errors.Join(errs...)
}

func (o *Orchestrator) retryTenantSegments(ctx context.Context, tenantID string) (notified int, err error) {
	p, err := o.begin(ctx, "retry_segments", tenantID)
	if err != nil {
		return 0, err
	}
	defer func() { o.end(p, err) }()
	if !p.stored {
		return 0, nil
	}
	done := map[string]bool{}
	for _, key := range bindings.PendingSegments(p.rec) {
		if done[key.NetworkID] {
			continue
		}
		done[key.NetworkID] = true
		if o.notifySegment(ctx, p, key.NetworkID) {
			notified++
		}
	}
	return notified, nil
}
