// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package bindings

import (
	"reflect"
	"sync"
	"testing"

	testlibDB "github.com/cobaltcore-dev/tenantnet/internal/db/testing"
)

func setupStore(t *testing.T) Store {
	env := testlibDB.SetupMigratedDBEnv(t)
	t.Cleanup(env.Close)
	return NewStore(env.DB, Monitor{})
}

func TestStoreAddGet(t *testing.T) {
	s := setupStore(t)
	ctx := t.Context()

	if _, ok, err := s.Get(ctx, "tenant-1"); err != nil || ok {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}
	r := sampleRecord()
	ok, err := s.Add(ctx, r)
	if err != nil || !ok {
		t.Fatalf("expected add to succeed, got ok=%v err=%v", ok, err)
	}
	got, ok, err := s.Get(ctx, "tenant-1")
	if err != nil || !ok {
		t.Fatalf("expected record, got ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, r) {
		t.Fatalf("expected %+v, got %+v", r, got)
	}

	// A second add for the same tenant is rejected.
	ok, err = s.Add(ctx, NewRecord("tenant-1", "other"))
	if err != nil || ok {
		t.Fatalf("expected add to be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestStoreSet(t *testing.T) {
	s := setupStore(t)
	ctx := t.Context()

	// Set needs an existing record.
	ok, err := s.Set(ctx, NewRecord("tenant-1", "ctrl-1"))
	if err != nil || ok {
		t.Fatalf("expected set without record to be rejected, got ok=%v err=%v", ok, err)
	}
	if _, err := s.Add(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}

	updated := sampleRecord()
	delete(updated.VLANs, VLANKey{NetworkID: "net.a", Owner: OwnerFirewall})
	delete(updated.Firewalls, "edge")
	updated.NATs["fip-1"] = NAT{FloatingIP: "172.24.4.11", FixedIP: "10.0.0.6", PortID: "port-2", Firewall: "edge"}
	updated.LoadBalancers["ha"] = LoadBalancer{DeviceName: "lb-ha"}
	updated.ControllerTenantID = "ctrl-2"
	ok, err = s.Set(ctx, updated)
	if err != nil || !ok {
		t.Fatalf("expected set to succeed, got ok=%v err=%v", ok, err)
	}
	got, _, err := s.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, updated) {
		t.Fatalf("expected %+v, got %+v", updated, got)
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	s := setupStore(t)
	ctx := t.Context()
	for _, id := range []string{"b", "a"} {
		if _, err := s.Add(ctx, NewRecord(id, "ctrl-"+id)); err != nil {
			t.Fatal(err)
		}
	}
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tenants, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", tenants)
	}
	ok, err := s.Delete(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected delete to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = s.Delete(ctx, "a")
	if err != nil || ok {
		t.Fatalf("expected second delete to be rejected, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("expected record to be gone")
	}
}

func TestStoreConcurrentAdd(t *testing.T) {
	s := setupStore(t)
	ctx := t.Context()
	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Add(ctx, NewRecord("tenant-1", "ctrl-1"))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if added != 1 {
		t.Fatalf("expected exactly one add to succeed, got %d", added)
	}
}

func TestDiff(t *testing.T) {
	old := map[string]string{"a": "1", "b": "2", "c": "3"}
	updated := map[string]string{"a": "1", "b": "20", "d": "4"}
	inserts, updates, deletes := Diff(old, updated)
	if !reflect.DeepEqual(inserts, map[string]string{"d": "4"}) {
		t.Errorf("unexpected inserts %v", inserts)
	}
	if !reflect.DeepEqual(updates, map[string]string{"b": "20"}) {
		t.Errorf("unexpected updates %v", updates)
	}
	if !reflect.DeepEqual(deletes, []string{"c"}) {
		t.Errorf("unexpected deletes %v", deletes)
	}
}
