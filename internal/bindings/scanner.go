// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package bindings

import (
	"slices"
	"strings"
)

// Reference counts are never stored. They are derived from the record
// with the functions below, which are the only place that knows how
// consumers relate to shared resources.

// Number of vlan segments provisioned for the tenant.
func CountActiveVLANs(r Record) int {
	return len(r.VLANs)
}

// Number of vlan segments of any owner on the given network.
func CountVLANsOnNetwork(r Record, networkID string) int {
	count := 0
	for key := range r.VLANs {
		if key.NetworkID == networkID {
			count++
		}
	}
	return count
}

// Whether the network has a vlan segment for the given owner.
func HasSegmentOfKind(r Record, networkID string, owner Owner) bool {
	_, ok := r.VLANs[VLANKey{NetworkID: networkID, Owner: owner}]
	return ok
}

// Whether the controller already provisioned a vlan for the network,
// so that a segment for another owner can reuse its vlan id.
func NetworkHasVLAN(r Record, networkID string) (vlanID int, ok bool) {
	n, found := r.Networks[networkID]
	if !found || !n.VLANCreated {
		return 0, false
	}
	return n.VLANID, true
}

// Number of consumers of the given owner kind on the network.
func CountDevicesOnNetwork(r Record, networkID string, owner Owner) int {
	count := 0
	for key, a := range r.Attachments {
		if key.NetworkID == networkID && a.Owner == owner {
			count++
		}
	}
	return count
}

// Number of vips attached to the load balancer of the given type.
func CountLoadBalancerVIPs(r Record, lbType string) int {
	return countChildren(r, OwnerLoadBalancer, lbType)
}

// Number of vips attached to any load balancer of the tenant.
func CountAllLoadBalancerVIPs(r Record) int {
	count := 0
	for _, a := range r.Attachments {
		if a.Owner == OwnerLoadBalancer {
			count++
		}
	}
	return count
}

// Number of network interfaces of the given tenant firewall.
func CountFirewallInterfaces(r Record, suffix string) int {
	return countChildren(r, OwnerFirewall, suffix)
}

func countChildren(r Record, owner Owner, parent string) int {
	count := 0
	for _, a := range r.Attachments {
		if a.Owner == owner && a.Parent == parent {
			count++
		}
	}
	return count
}

// Whether the device is attached to the network.
func HasAttachment(r Record, deviceID, networkID string) bool {
	_, ok := r.Attachments[AttachmentKey{DeviceID: deviceID, NetworkID: networkID}]
	return ok
}

// Number of nat mappings that live on the given tenant firewall.
func CountNATsOnFirewall(r Record, suffix string) int {
	count := 0
	for _, n := range r.NATs {
		if n.Firewall == suffix {
			count++
		}
	}
	return count
}

// Vlan segments whose framework notification is still pending,
// in a stable order.
func PendingSegments(r Record) []VLANKey {
	var pending []VLANKey
	for key, v := range r.VLANs {
		if !v.SegmentCreated {
			pending = append(pending, key)
		}
	}
	slices.SortFunc(pending, func(a, b VLANKey) int {
		if c := strings.Compare(a.NetworkID, b.NetworkID); c != 0 {
			return c
		}
		return strings.Compare(string(a.Owner), string(b.Owner))
	})
	return pending
}

// Whether the tenant still has any provisioned resource that requires
// the tenant to exist on the controller.
func HasTenantResources(r Record) bool {
	return r.TenantNetworkCreated ||
		len(r.VLANs) > 0 ||
		len(r.Attachments) > 0 ||
		len(r.Firewalls) > 0 ||
		len(r.LoadBalancers) > 0 ||
		len(r.NATs) > 0 ||
		len(r.Policies) > 0
}
