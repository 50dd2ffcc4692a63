// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package bindings

import (
	"strconv"
	"strings"
)

// Flat key scheme of the persisted binding record:
//
//	binding.created                        = true
//	tenant.created                         = true
//	tenant-network.created                 = true
//	network:<net>.{name,subnet,cidr,logical-name,vlan-created,vlan-id}
//	vlan:<net>.<owner>.{exists,id,segment-created}
//	device:<device>.<net>.{owner,parent,ip,mac,name}
//	firewall:<suffix>.name
//	loadbalancer:<type>.name
//	nat:<floating-ip-id>.{floating-ip,fixed-ip,port,firewall}
//	policy:<type>.<id>                     = serialized body
//
// Identifiers are escaped so that they never contain the separators.
const (
	keyBinding       = "binding.created"
	keyTenant        = "tenant.created"
	keyTenantNetwork = "tenant-network.created"

	prefixNetwork      = "network:"
	prefixVLAN         = "vlan:"
	prefixDevice       = "device:"
	prefixFirewall     = "firewall:"
	prefixLoadBalancer = "loadbalancer:"
	prefixNAT          = "nat:"
	prefixPolicy       = "policy:"
)

var (
	idEscaper   = strings.NewReplacer("%", "%25", ".", "%2E", ":", "%3A")
	idUnescaper = strings.NewReplacer("%2E", ".", "%3A", ":", "%25", "%")
)

func escapeID(id string) string   { return idEscaper.Replace(id) }
func unescapeID(id string) string { return idUnescaper.Replace(id) }

// Flatten the record into the key/value form it is persisted in.
func (r Record) Flatten() map[string]string {
	kv := map[string]string{keyBinding: "true"}
	for k, v := range r.Extra {
		kv[k] = v
	}
	if r.TenantCreated {
		kv[keyTenant] = "true"
	}
	if r.TenantNetworkCreated {
		kv[keyTenantNetwork] = "true"
	}
	setIfNotEmpty := func(key, value string) {
		if value != "" {
			kv[key] = value
		}
	}
	for id, n := range r.Networks {
		base := prefixNetwork + escapeID(id) + "."
		setIfNotEmpty(base+"name", n.Name)
		setIfNotEmpty(base+"subnet", n.SubnetID)
		setIfNotEmpty(base+"cidr", n.CIDR)
		setIfNotEmpty(base+"logical-name", n.LogicalName)
		kv[base+"vlan-created"] = strconv.FormatBool(n.VLANCreated)
		if n.VLANCreated {
			kv[base+"vlan-id"] = strconv.Itoa(n.VLANID)
		}
	}
	for key, v := range r.VLANs {
		base := prefixVLAN + escapeID(key.NetworkID) + "." + escapeID(string(key.Owner)) + "."
		kv[base+"exists"] = "true"
		kv[base+"id"] = strconv.Itoa(v.ID)
		kv[base+"segment-created"] = strconv.FormatBool(v.SegmentCreated)
	}
	for key, a := range r.Attachments {
		base := prefixDevice + escapeID(key.DeviceID) + "." + escapeID(key.NetworkID) + "."
		kv[base+"owner"] = string(a.Owner)
		setIfNotEmpty(base+"parent", a.Parent)
		setIfNotEmpty(base+"ip", a.IP)
		setIfNotEmpty(base+"mac", a.MAC)
		setIfNotEmpty(base+"name", a.DeviceName)
	}
	for suffix, f := range r.Firewalls {
		kv[prefixFirewall+escapeID(suffix)+".name"] = f.DeviceName
	}
	for lbType, lb := range r.LoadBalancers {
		kv[prefixLoadBalancer+escapeID(lbType)+".name"] = lb.DeviceName
	}
	for id, n := range r.NATs {
		base := prefixNAT + escapeID(id) + "."
		kv[base+"floating-ip"] = n.FloatingIP
		kv[base+"fixed-ip"] = n.FixedIP
		kv[base+"port"] = n.PortID
		kv[base+"firewall"] = n.Firewall
	}
	for key, body := range r.Policies {
		kv[prefixPolicy+escapeID(string(key.Type))+"."+escapeID(key.ID)] = body
	}
	return kv
}

// Parse a flattened record. Keys outside of the known scheme are kept
// in Extra, so that a parse-flatten roundtrip never loses data.
func ParseRecord(tenantID, controllerTenantID string, kv map[string]string) Record {
	r := NewRecord(tenantID, controllerTenantID)
	for key, value := range kv {
		if !r.parseKey(key, value) {
			r.Extra[key] = value
		}
	}
	return r
}

// Parse a single key into the record. Returns false for unknown keys.
func (r *Record) parseKey(key, value string) bool {
	switch key {
	case keyBinding:
		return true
	case keyTenant:
		r.TenantCreated = value == "true"
		return true
	case keyTenantNetwork:
		r.TenantNetworkCreated = value == "true"
		return true
	}
	prefix, rest, ok := strings.Cut(key, ":")
	if !ok {
		return false
	}
	parts := strings.Split(rest, ".")
	for i := range parts {
		parts[i] = unescapeID(parts[i])
	}
	switch prefix + ":" {
	case prefixNetwork:
		if len(parts) != 2 {
			return false
		}
		n := r.Networks[parts[0]]
		switch parts[1] {
		case "name":
			n.Name = value
		case "subnet":
			n.SubnetID = value
		case "cidr":
			n.CIDR = value
		case "logical-name":
			n.LogicalName = value
		case "vlan-created":
			n.VLANCreated = value == "true"
		case "vlan-id":
			n.VLANID = atoi(value)
		default:
			return false
		}
		r.Networks[parts[0]] = n
	case prefixVLAN:
		if len(parts) != 3 {
			return false
		}
		key := VLANKey{NetworkID: parts[0], Owner: Owner(parts[1])}
		v := r.VLANs[key]
		switch parts[2] {
		case "exists":
		case "id":
			v.ID = atoi(value)
		case "segment-created":
			v.SegmentCreated = value == "true"
		default:
			return false
		}
		r.VLANs[key] = v
	case prefixDevice:
		if len(parts) != 3 {
			return false
		}
		key := AttachmentKey{DeviceID: parts[0], NetworkID: parts[1]}
		a := r.Attachments[key]
		switch parts[2] {
		case "owner":
			a.Owner = Owner(value)
		case "parent":
			a.Parent = value
		case "ip":
			a.IP = value
		case "mac":
			a.MAC = value
		case "name":
			a.DeviceName = value
		default:
			return false
		}
		r.Attachments[key] = a
	case prefixFirewall:
		if len(parts) != 2 || parts[1] != "name" {
			return false
		}
		r.Firewalls[parts[0]] = Firewall{DeviceName: value}
	case prefixLoadBalancer:
		if len(parts) != 2 || parts[1] != "name" {
			return false
		}
		r.LoadBalancers[parts[0]] = LoadBalancer{DeviceName: value}
	case prefixNAT:
		if len(parts) != 2 {
			return false
		}
		n := r.NATs[parts[0]]
		switch parts[1] {
		case "floating-ip":
			n.FloatingIP = value
		case "fixed-ip":
			n.FixedIP = value
		case "port":
			n.PortID = value
		case "firewall":
			n.Firewall = value
		default:
			return false
		}
		r.NATs[parts[0]] = n
	case prefixPolicy:
		if len(parts) != 2 {
			return false
		}
		r.Policies[PolicyKey{Type: PolicyType(parts[0]), ID: parts[1]}] = value
	default:
		return false
	}
	return true
}

// Values are written by this package, so a malformed number means
// the key was edited by hand. Treat it as zero.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
