// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"errors"
	"sync"
	"testing"

	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	testlibDB "github.com/cobaltcore-dev/tenantnet/internal/db/testing"
	"github.com/cobaltcore-dev/tenantnet/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func setupAllocator(t *testing.T) Allocator {
	env := testlibDB.SetupMigratedDBEnv(t)
	t.Cleanup(env.Close)
	return NewAllocator(env.DB, Monitor{})
}

func TestCreatePool(t *testing.T) {
	a := setupAllocator(t)
	ctx := t.Context()
	if err := a.CreatePool(ctx, "fw-1", 4); err != nil {
		t.Fatalf("expected pool creation to succeed, got %v", err)
	}
	if err := a.CreatePool(ctx, "fw-1", 4); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
	if err := a.CreatePool(ctx, "fw-2", 0); err == nil {
		t.Fatal("expected error for empty pool")
	}
}

func TestAllocateLowestFirst(t *testing.T) {
	a := setupAllocator(t)
	ctx := t.Context()
	if err := a.CreatePool(ctx, "fw-1", 3); err != nil {
		t.Fatal(err)
	}
	for want := 1; want <= 3; want++ {
		id, ok, err := a.Allocate(ctx, "fw-1", "address")
		if err != nil || !ok || id != want {
			t.Fatalf("expected id %d, got %d ok=%v err=%v", want, id, ok, err)
		}
	}
	// Exhausted: none, not an error.
	id, ok, err := a.Allocate(ctx, "fw-1", "address")
	if err != nil || ok {
		t.Fatalf("expected exhaustion, got id=%d ok=%v err=%v", id, ok, err)
	}
	inUse, err := a.InUse(ctx, "fw-1")
	if err != nil || len(inUse) != 3 {
		t.Fatalf("expected 3 ids in use, got %v err=%v", inUse, err)
	}

	// A released id is handed out again before higher ones.
	if ok, err := a.Release(ctx, "fw-1", 2); err != nil || !ok {
		t.Fatalf("expected release to succeed, got ok=%v err=%v", ok, err)
	}
	if ok, err := a.Release(ctx, "fw-1", 2); err != nil || ok {
		t.Fatalf("expected double release to report false, got ok=%v err=%v", ok, err)
	}
	id, ok, err = a.Allocate(ctx, "fw-1", "service")
	if err != nil || !ok || id != 2 {
		t.Fatalf("expected id 2, got %d ok=%v err=%v", id, ok, err)
	}
	inUse, err = a.InUse(ctx, "fw-1")
	if err != nil || inUse[2] != "service" {
		t.Fatalf("expected id 2 tagged service, got %v err=%v", inUse, err)
	}
}

func TestAllocateWithoutPool(t *testing.T) {
	a := setupAllocator(t)
	_, ok, err := a.Allocate(t.Context(), "missing", "address")
	if err != nil || ok {
		t.Fatalf("expected none for missing pool, got ok=%v err=%v", ok, err)
	}
}

func TestReleaseManyAndDestroy(t *testing.T) {
	a := setupAllocator(t)
	ctx := t.Context()
	if err := a.CreatePool(ctx, "fw-1", 5); err != nil {
		t.Fatal(err)
	}
	for range 4 {
		if _, _, err := a.Allocate(ctx, "fw-1", "policy"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := a.ReleaseMany(ctx, "fw-1", []int{1, 3, 5})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 released ids, got %d err=%v", n, err)
	}
	inUse, err := a.InUse(ctx, "fw-1")
	if err != nil || len(inUse) != 2 || inUse[2] == "" || inUse[4] == "" {
		t.Fatalf("expected ids 2 and 4 in use, got %v err=%v", inUse, err)
	}
	if err := a.DestroyPool(ctx, "fw-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.Allocate(ctx, "fw-1", "policy"); ok {
		t.Fatal("expected no ids after pool destruction")
	}
	// The pool can be created again afterwards.
	if err := a.CreatePool(ctx, "fw-1", 1); err != nil {
		t.Fatalf("expected pool recreation to succeed, got %v", err)
	}
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	a := setupAllocator(t)
	ctx := t.Context()
	for _, instance := range []string{"fw-1", "fw-2"} {
		if err := a.CreatePool(ctx, instance, 20); err != nil {
			t.Fatal(err)
		}
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]map[int]bool{"fw-1": {}, "fw-2": {}}
	for i := range 30 {
		instance := "fw-1"
		if i%2 == 1 {
			instance = "fw-2"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ok, err := a.Allocate(ctx, instance, "rule")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if !ok {
				t.Errorf("unexpected exhaustion on %s", instance)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[instance][id] {
				t.Errorf("id %d handed out twice on %s", id, instance)
			}
			seen[instance][id] = true
		}()
	}
	wg.Wait()
	if len(seen["fw-1"]) != 15 || len(seen["fw-2"]) != 15 {
		t.Fatalf("expected 15 ids per instance, got %d and %d", len(seen["fw-1"]), len(seen["fw-2"]))
	}
}

func TestAllocatorMonitor(t *testing.T) {
	env := testlibDB.SetupMigratedDBEnv(t)
	defer env.Close()
	registry := monitoring.NewRegistry(conf.MonitoringConfig{})
	monitor := NewAllocatorMonitor(registry)
	a := NewAllocator(env.DB, monitor)
	ctx := t.Context()
	if err := a.CreatePool(ctx, "fw-1", 2); err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.Allocate(ctx, "fw-1", "rule"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(monitor.freeSlots.WithLabelValues("fw-1")); got != 1 {
		t.Errorf("expected 1 free id, got %v", got)
	}
	if got := testutil.ToFloat64(monitor.allocations.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 allocation, got %v", got)
	}
}
