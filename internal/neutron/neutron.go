// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package neutron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	"github.com/cobaltcore-dev/tenantnet/internal/keystone"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/portsbinding"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"
)

// Keys written into the binding profile of a port once its segment is known.
const (
	ProfileSegmentationID = "segmentation_id"
	ProfileNetworkType    = "network_type"
)

// Network metadata as known to the framework.
type NetworkInfo struct {
	ID       string
	Name     string
	SubnetID string
	CIDR     string
}

// The surrounding network framework.
type Framework interface {
	// Resolve name and first subnet of a network.
	NetworkInfo(ctx context.Context, networkID string) (NetworkInfo, error)
	// Tell the framework the vlan id of the segment now backing the
	// network, so it can finish binding the ports on it.
	NotifySegment(ctx context.Context, networkID string, vlanID int) error
}

// Port with its binding extension.
type Port struct {
	ports.Port
	portsbinding.PortsBindingExt
}

// Framework backed by neutron.
type Neutron struct {
	keystone keystone.KeystoneAPI
	conf     conf.NeutronConfig
	// Neutron service client, set in Init.
	network *gophercloud.ServiceClient
}

// Create a framework adapter backed by neutron. Init must be called before use.
func NewNeutron(k keystone.KeystoneAPI, c conf.NeutronConfig) *Neutron {
	return &Neutron{keystone: k, conf: c}
}

// Authenticate and locate the neutron endpoint.
func (f *Neutron) Init(ctx context.Context) error {
	if err := f.keystone.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	client, err := openstack.NewNetworkV2(f.keystone.Client(), gophercloud.EndpointOpts{
		Availability: gophercloud.Availability(f.keystone.Availability()),
	})
	if err != nil {
		return fmt.Errorf("failed to locate neutron: %w", err)
	}
	slog.Info("neutron: using endpoint", "url", client.Endpoint)
	f.network = client
	return nil
}

func (f *Neutron) NetworkInfo(ctx context.Context, networkID string) (NetworkInfo, error) {
	n, err := networks.Get(ctx, f.network, networkID).Extract()
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("failed to get network %s: %w", networkID, err)
	}
	info := NetworkInfo{ID: n.ID, Name: n.Name}
	if len(n.Subnets) == 0 {
		return info, nil
	}
	s, err := subnets.Get(ctx, f.network, n.Subnets[0]).Extract()
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("failed to get subnet %s: %w", n.Subnets[0], err)
	}
	info.SubnetID = s.ID
	info.CIDR = s.CIDR
	return info, nil
}

func (f *Neutron) NotifySegment(ctx context.Context, networkID string, vlanID int) error {
	opts := ports.ListOpts{NetworkID: networkID, DeviceOwner: f.conf.DeviceOwner}
	pages, err := ports.List(f.network, opts).AllPages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ports of network %s: %w", networkID, err)
	}
	var all []Port
	if err := ports.ExtractPortsInto(pages, &all); err != nil {
		return err
	}
	var errs []error
	updated := 0
	for _, p := range all {
		if hasSegment(p.Profile, vlanID) {
			continue
		}
		profile := make(map[string]any, len(p.Profile)+2)
		for k, v := range p.Profile {
			profile[k] = v
		}
		profile[ProfileSegmentationID] = vlanID
		profile[ProfileNetworkType] = "vlan"
		update := portsbinding.UpdateOptsExt{
			UpdateOptsBuilder: ports.UpdateOpts{},
			Profile:           profile,
		}
		if _, err := ports.Update(ctx, f.network, p.ID, update).Extract(); err != nil {
			errs = append(errs, fmt.Errorf("failed to update port %s: %w", p.ID, err))
			continue
		}
		updated++
	}
	slog.Info("neutron: notified segment", "network", networkID, "vlan", vlanID,
		"ports", len(all), "updated", updated, "failed", len(errs))
	return errors.Join(errs...)
}

// Json numbers in the profile decode as float64.
func hasSegment(profile map[string]any, vlanID int) bool {
	switch v := profile[ProfileSegmentationID].(type) {
	case float64:
		return int(v) == vlanID
	case int:
		return v == vlanID
	}
	return false
}

type noopFramework struct{}

// Framework used when no neutron is configured. Networks are only known
// by their id and segment notifications are dropped.
func NewNoopFramework() Framework { return noopFramework{} }

func (noopFramework) NetworkInfo(ctx context.Context, networkID string) (NetworkInfo, error) {
	return NetworkInfo{ID: networkID, Name: networkID}, nil
}

func (noopFramework) NotifySegment(ctx context.Context, networkID string, vlanID int) error {
	slog.Debug("neutron: not configured, dropping segment notification", "network", networkID, "vlan", vlanID)
	return nil
}
