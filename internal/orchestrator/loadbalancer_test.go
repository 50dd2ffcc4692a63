// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/cobaltcore-dev/tenantnet/internal/bindings"
)

func vip(id, network string) VIPRequest {
	return VIPRequest{
		TenantID:           "tenant-1",
		ControllerTenantID: "ctrl-1",
		Type:               "standalone",
		VIPID:              id,
		NetworkID:          network,
		IP:                 "10.0.1.10",
	}
}

func TestSharedLoadBalancer(t *testing.T) {
	e := setupOrchestrator(t)
	ctx := t.Context()

	if _, err := e.orch.AddVIP(ctx, vip("vip-1", "net-1")); err != nil {
		t.Fatalf("expected first vip to succeed, got %v", err)
	}
	call := e.controller.last()
	expectCalls(t, e.controller, "create_tenant_network", "create_vlan", "create_loadbalancer")
	if call.params["reserved_resource"] != "rsv-1" {
		t.Fatalf("expected reserved resource in params, got %v", call.params)
	}

	before, _, err := e.store.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	after, err := e.orch.AddVIP(ctx, vip("vip-2", "net-1"))
	if err != nil {
		t.Fatalf("expected second vip to succeed, got %v", err)
	}
	call = e.controller.last()
	expectCalls(t, e.controller, "update_loadbalancer")
	if got := actionsOf(t, call); len(got) != 1 || got[0] != "connect:net-1" {
		t.Fatalf("unexpected update actions %v", got)
	}
	inserts, updates, deletes := bindings.Diff(before.Flatten(), after.Flatten())
	if len(updates) != 0 || len(deletes) != 0 || len(inserts) == 0 {
		t.Fatalf("expected only new keys, got inserts=%v updates=%v deletes=%v", inserts, updates, deletes)
	}
	for key := range inserts {
		if !strings.HasPrefix(key, "device:vip-2.") {
			t.Fatalf("expected only keys of vip-2, got %s", key)
		}
	}

	_, err = e.orch.SetPolicy(ctx, PolicyRequest{
		TenantID: "tenant-1", Type: bindings.PolicyPool, ID: "pool-1", Body: json.RawMessage(`{"lb_method":"ROUND_ROBIN"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	expectCalls(t, e.controller, "create_policy")

	if _, err := e.orch.RemoveVIP(ctx, "tenant-1", "standalone", "vip-1", "net-1"); err != nil {
		t.Fatalf("expected vip removal to succeed, got %v", err)
	}
	call = e.controller.last()
	expectCalls(t, e.controller, "update_loadbalancer")
	if got := actionsOf(t, call); got[0] != "disconnect:net-1" {
		t.Fatalf("unexpected update actions %v", got)
	}

	_, err = e.orch.RemoveVIP(ctx, "tenant-1", "standalone", "vip-2", "net-1")
	expectDriverError(t, err, ErrInUse)
	expectCalls(t, e.controller)

	if _, err := e.orch.DeletePolicy(ctx, "tenant-1", bindings.PolicyPool, "pool-1"); err != nil {
		t.Fatal(err)
	}
	expectCalls(t, e.controller, "delete_policy")

	if _, err := e.orch.RemoveVIP(ctx, "tenant-1", "standalone", "vip-2", "net-1"); err != nil {
		t.Fatalf("expected last vip removal to succeed, got %v", err)
	}
	expectCalls(t, e.controller, "delete_loadbalancer", "delete_vlan", "delete_tenant_network")
	expectNoBinding(t, e, "tenant-1")
}

func TestLoadBalancerTypesAreIndependent(t *testing.T) {
	e := setupOrchestrator(t)
	ctx := t.Context()
	if _, err := e.orch.AddVIP(ctx, vip("vip-1", "net-1")); err != nil {
		t.Fatal(err)
	}
	e.controller.drain()

	ha := vip("vip-2", "net-1")
	ha.Type = "ha"
	rec, err := e.orch.AddVIP(ctx, ha)
	if err != nil {
		t.Fatal(err)
	}
	call := e.controller.last()
	expectCalls(t, e.controller, "create_loadbalancer")
	if _, ok := call.params["reserved_resource"]; ok {
		t.Fatalf("expected no reservation for ha, got %v", call.params)
	}
	if len(rec.LoadBalancers) != 2 || bindings.CountLoadBalancerVIPs(rec, "ha") != 1 {
		t.Fatalf("unexpected load balancers %+v", rec.LoadBalancers)
	}

	_, err = e.orch.RemoveVIP(ctx, "tenant-1", "ha", "vip-1", "net-1")
	expectDriverError(t, err, ErrNotFound)
}
