// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"sync"
)

// Lock and call history of one tenant.
type tenantState struct {
	// Buffered with capacity 1, holding a value while the tenant is locked.
	lock chan struct{}
	// Successful calls, most recent last. Only accessed with the lock held.
	history []entry
	// Number of holders and waiters. Guarded by the registry mutex.
	refs int
	// Drop the state once the last holder is gone.
	evicted bool
}

// Registry of per-tenant locks and call histories.
//
// Locks are created lazily on the first Acquire of a tenant and are
// only dropped again through Evict.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
}

func NewRegistry() *Registry {
	return &Registry{tenants: map[string]*tenantState{}}
}

// Exclusive access to one tenant, obtained with Acquire.
type Handle struct {
	registry *Registry
	tenant   string
	state    *tenantState
	once     sync.Once
}

// Tenant the handle locks.
func (h *Handle) Tenant() string { return h.tenant }

// Block until the tenant is free or the context is done.
func (r *Registry) Acquire(ctx context.Context, tenant string) (*Handle, error) {
	r.mu.Lock()
	st, ok := r.tenants[tenant]
	if !ok {
		st = &tenantState{lock: make(chan struct{}, 1)}
		r.tenants[tenant] = st
	}
	st.refs++
	st.evicted = false
	r.mu.Unlock()

	select {
	case st.lock <- struct{}{}:
		return &Handle{registry: r, tenant: tenant, state: st}, nil
	case <-ctx.Done():
		r.unref(tenant, st)
		return nil, ctx.Err()
	}
}

// Give up the tenant lock. Calling Release more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.registry.unref(h.tenant, h.state)
		<-h.state.lock
	})
}

func (r *Registry) unref(tenant string, st *tenantState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.refs--
	if st.refs == 0 && st.evicted && r.tenants[tenant] == st {
		delete(r.tenants, tenant)
	}
}

// Drop the lock and history of a tenant whose binding was deleted.
// If the tenant is currently held, the state is dropped on release.
func (r *Registry) Evict(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tenants[tenant]
	if !ok {
		return
	}
	if st.refs == 0 {
		delete(r.tenants, tenant)
		return
	}
	st.evicted = true
}

// Number of tenants with a lock.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}
