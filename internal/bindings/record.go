// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package bindings

import "maps"

// Owner of a vlan segment on a network, i.e. which kind of consumer
// the segment was provisioned for.
type Owner string

const (
	// Plain devices (e.g. ports of servers) attached to a network.
	OwnerDevice Owner = "device"
	// Interfaces of a tenant firewall.
	OwnerFirewall Owner = "firewall"
	// Vips of a load balancer instance.
	OwnerLoadBalancer Owner = "loadbalancer"
)

// Valid reports whether the owner is one of the known owners.
func (o Owner) Valid() bool {
	switch o {
	case OwnerDevice, OwnerFirewall, OwnerLoadBalancer:
		return true
	}
	return false
}

// Resource type tags a policy can be stored under.
type PolicyType string

const (
	PolicyPool          PolicyType = "pool"
	PolicyVIP           PolicyType = "vip"
	PolicyMember        PolicyType = "member"
	PolicyHealthMonitor PolicyType = "health-monitor"
	PolicyFirewallRule  PolicyType = "firewall-rule"
)

// Valid reports whether the policy type is one of the known tags.
func (p PolicyType) Valid() bool {
	switch p {
	case PolicyPool, PolicyVIP, PolicyMember, PolicyHealthMonitor, PolicyFirewallRule:
		return true
	}
	return false
}

// Identity of a tenant network as known to the framework and the controller.
type Network struct {
	Name     string
	SubnetID string
	CIDR     string
	// Logical network name assigned by the controller.
	LogicalName string
	// Set once the controller provisioned a vlan for this network.
	VLANCreated bool
	// Vlan id assigned by the controller.
	VLANID int
}

type VLANKey struct {
	NetworkID string
	Owner     Owner
}

// Vlan segment of one owner on a network.
type VLAN struct {
	// Vlan id, copied from the network when the segment was reused.
	ID int
	// Set once the framework was notified about the concrete segment.
	SegmentCreated bool
}

type AttachmentKey struct {
	DeviceID  string
	NetworkID string
}

// A consumer of a vlan segment: a device, a firewall interface or a vip.
type Attachment struct {
	Owner Owner
	// Firewall suffix or load balancer type the attachment belongs to.
	// Empty for plain devices.
	Parent string
	IP     string
	MAC    string
	// Device name assigned by the controller for this network.
	DeviceName string
}

// A tenant firewall instance.
type Firewall struct {
	DeviceName string
}

// A load balancer instance of a given type.
type LoadBalancer struct {
	DeviceName string
}

// A floating ip mapping on a tenant firewall.
type NAT struct {
	FloatingIP string
	FixedIP    string
	PortID     string
	Firewall   string
}

type PolicyKey struct {
	Type PolicyType
	ID   string
}

// Per-tenant snapshot of the provisioned resources and their controller
// identities. This is the only persistent entity of the orchestrator.
type Record struct {
	TenantID           string
	ControllerTenantID string

	TenantCreated        bool
	TenantNetworkCreated bool

	Networks      map[string]Network
	VLANs         map[VLANKey]VLAN
	Attachments   map[AttachmentKey]Attachment
	Firewalls     map[string]Firewall
	LoadBalancers map[string]LoadBalancer
	NATs          map[string]NAT
	// Serialized policy bodies.
	Policies map[PolicyKey]string

	// Keys written by the framework that are not part of the known scheme.
	// They are preserved as they are.
	Extra map[string]string
}

// Create an empty record for the given tenant.
func NewRecord(tenantID, controllerTenantID string) Record {
	return Record{
		TenantID:           tenantID,
		ControllerTenantID: controllerTenantID,
		Networks:           map[string]Network{},
		VLANs:              map[VLANKey]VLAN{},
		Attachments:        map[AttachmentKey]Attachment{},
		Firewalls:          map[string]Firewall{},
		LoadBalancers:      map[string]LoadBalancer{},
		NATs:               map[string]NAT{},
		Policies:           map[PolicyKey]string{},
		Extra:              map[string]string{},
	}
}

// Deep copy of the record, so that a modified copy can be persisted
// without touching the record that was read.
func (r Record) Clone() Record {
	c := r
	c.Networks = maps.Clone(r.Networks)
	c.VLANs = maps.Clone(r.VLANs)
	c.Attachments = maps.Clone(r.Attachments)
	c.Firewalls = maps.Clone(r.Firewalls)
	c.LoadBalancers = maps.Clone(r.LoadBalancers)
	c.NATs = maps.Clone(r.NATs)
	c.Policies = maps.Clone(r.Policies)
	c.Extra = maps.Clone(r.Extra)
	c.ensureMaps()
	return c
}

func (r *Record) ensureMaps() {
	if r.Networks == nil {
		r.Networks = map[string]Network{}
	}
	if r.VLANs == nil {
		r.VLANs = map[VLANKey]VLAN{}
	}
	if r.Attachments == nil {
		r.Attachments = map[AttachmentKey]Attachment{}
	}
	if r.Firewalls == nil {
		r.Firewalls = map[string]Firewall{}
	}
	if r.LoadBalancers == nil {
		r.LoadBalancers = map[string]LoadBalancer{}
	}
	if r.NATs == nil {
		r.NATs = map[string]NAT{}
	}
	if r.Policies == nil {
		r.Policies = map[PolicyKey]string{}
	}
	if r.Extra == nil {
		r.Extra = map[string]string{}
	}
}
