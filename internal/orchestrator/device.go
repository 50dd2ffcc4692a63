// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log/slog"

	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
	"github.com/cobaltcore-dev/tenantnet/internal/mqtt"
)

const kindDevice = "device"

// A device port on a tenant network.
type DeviceRequest struct {
	TenantID           string `json:"-"`
	ControllerTenantID string `json:"controller_tenant"`
	DeviceID           string `json:"device"`
	NetworkID          string `json:"network"`
	IP                 string `json:"ip"`
	MAC                string `json:"mac"`
}

func deviceObject(deviceID, networkID string) string {
	return kindDevice + ":" + deviceID + ":" + networkID
}

func deviceIdentity(deviceID, networkID string) map[string]any {
	return map[string]any{"device": deviceID, "network": networkID}
}

// Attach a device to a network, creating the tenant, the tenant network
// and the vlan of the network on the way if needed.
func (o *Orchestrator) AttachDevice(ctx context.Context, req DeviceRequest) (rec bindings.Record, err error) {
	const name = "attach_device"
	if req.DeviceID == "" || req.NetworkID == "" {
		return bindings.Record{}, driverError(name, ErrInvalidRequest, "device and network are required")
	}
	p, err := o.begin(ctx, name, req.TenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()

	key := bindings.AttachmentKey{DeviceID: req.DeviceID, NetworkID: req.NetworkID}
	if a, ok := p.rec.Attachments[key]; ok {
		if a.Owner != bindings.OwnerDevice {
			return bindings.Record{}, driverError(name, ErrAlreadyExists,
				"%s on %s is owned by %s %s", req.DeviceID, req.NetworkID, a.Owner, a.Parent)
		}
		slog.Warn("orchestrator: device is already attached",
			"tenant", req.TenantID, "device", req.DeviceID, "network", req.NetworkID)
		return p.rec, nil
	}
	if err := o.ensureRecord(ctx, p, req.ControllerTenantID); err != nil {
		return bindings.Record{}, err
	}
	if err := o.ensureVLAN(ctx, p, req.NetworkID, bindings.OwnerDevice); err != nil {
		return bindings.Record{}, err
	}
	network := p.rec.Networks[req.NetworkID]
	res, err := o.call(ctx, p, o.workflows.DeviceAttach, deviceObject(req.DeviceID, req.NetworkID), deviceIdentity(req.DeviceID, req.NetworkID), map[string]any{
		"device":       req.DeviceID,
		"network":      req.NetworkID,
		"logical_name": network.LogicalName,
		"vlan":         network.VLANID,
		"ip":           req.IP,
		"mac":          req.MAC,
	})
	if err != nil {
		return bindings.Record{}, err
	}
	p.rec.Attachments[key] = bindings.Attachment{
		Owner:      bindings.OwnerDevice,
		IP:         req.IP,
		MAC:        req.MAC,
		DeviceName: decodeProvisioned(p, res).DeviceName,
	}
	if err := o.save(ctx, p); err != nil {
		return bindings.Record{}, err
	}
	o.publish(p, kindDevice, mqtt.ActionCreated, req.DeviceID)
	return p.rec, nil
}

// Detach a device from a network and release everything that is no
// longer referenced. Retrying a partially failed detach resumes the
// teardown.
func (o *Orchestrator) DetachDevice(ctx context.Context, tenantID, deviceID, networkID string) (rec bindings.Record, err error) {
	p, err := o.begin(ctx, "detach_device", tenantID)
	if err != nil {
		return bindings.Record{}, err
	}
	defer func() { o.end(p, err) }()
	if err := o.requireRecord(p); err != nil {
		return bindings.Record{}, err
	}

	key := bindings.AttachmentKey{DeviceID: deviceID, NetworkID: networkID}
	if a, ok := p.rec.Attachments[key]; ok {
		if a.Owner != bindings.OwnerDevice {
			return bindings.Record{}, driverError(p.name, ErrInUse,
				"%s on %s is owned by %s %s", deviceID, networkID, a.Owner, a.Parent)
		}
		network := p.rec.Networks[networkID]
		_, err := o.call(ctx, p, o.workflows.DeviceDetach, deviceObject(deviceID, networkID), deviceIdentity(deviceID, networkID), map[string]any{
			"device":       deviceID,
			"network":      networkID,
			"logical_name": network.LogicalName,
			"vlan":         network.VLANID,
			"ip":           a.IP,
			"mac":          a.MAC,
		})
		if err != nil {
			return bindings.Record{}, err
		}
		delete(p.rec.Attachments, key)
		if err := o.save(ctx, p); err != nil {
			return bindings.Record{}, err
		}
		o.publish(p, kindDevice, mqtt.ActionDeleted, deviceID)
	}
	if err := o.releaseVLAN(ctx, p, networkID, bindings.OwnerDevice); err != nil {
		return bindings.Record{}, err
	}
	return p.rec, nil
}
