// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/db"
	"github.com/go-gorp/gorp"
	"github.com/im7mortal/kmutex"
)

// Returned by CreatePool if the instance already has a pool.
var ErrPoolExists = errors.New("id pool already exists")

// How often an allocation is retried when another writer claimed
// the selected slot first.
const maxClaimAttempts = 5

// One id slot of a firewall instance.
type Slot struct {
	FirewallInstance string `db:"firewall_instance"`
	ID               int    `db:"slot"`
	Used             bool   `db:"used"`
	Kind             string `db:"kind"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (Slot) TableName() string { return "firewall_ids" }

// Durable free-list of small integer ids, scoped per firewall instance.
// Ids are numbered from 1 to the size of the pool.
type Allocator interface {
	// Provision size free slots for the instance.
	CreatePool(ctx context.Context, instance string, size int) error
	// Claim the lowest free id for the given kind. The bool is false
	// if the pool is exhausted or does not exist.
	Allocate(ctx context.Context, instance, kind string) (int, bool, error)
	// Free one id. The bool is false if the id was not in use.
	Release(ctx context.Context, instance string, id int) (bool, error)
	// Free multiple ids and return how many were actually in use.
	ReleaseMany(ctx context.Context, instance string, ids []int) (int, error)
	// Remove all slots of the instance.
	DestroyPool(ctx context.Context, instance string) error
	// Ids currently in use by the instance, by id.
	InUse(ctx context.Context, instance string) (map[int]string, error)
}

type allocator struct {
	db      db.DB
	monitor Monitor
	// Serializes allocations and releases per firewall instance.
	locks *kmutex.Kmutex
	// Allows tests to control time.
	now func() time.Time
}

func NewAllocator(d db.DB, m Monitor) Allocator {
	return &allocator{db: d, monitor: m, locks: kmutex.New(), now: time.Now}
}

func (a *allocator) lock(instance string) func() {
	a.locks.Lock(instance)
	return func() { a.locks.Unlock(instance) }
}

func (a *allocator) CreatePool(ctx context.Context, instance string, size int) error {
	if size <= 0 {
		return fmt.Errorf("invalid pool size %d", size)
	}
	defer a.lock(instance)()
	err := a.db.InTransaction(func(tx *gorp.Transaction) error {
		exec := tx.WithContext(ctx)
		n, err := exec.SelectInt(
			"SELECT COUNT(*) FROM firewall_ids WHERE firewall_instance = :instance",
			map[string]any{"instance": instance},
		)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrPoolExists, instance)
		}
		now := a.now().Unix()
		for id := 1; id <= size; id++ {
			_, err := exec.Exec(`
				INSERT INTO firewall_ids (firewall_instance, slot, used, kind, updated_at)
				VALUES (:instance, :slot, :used, '', :now)`,
				map[string]any{"instance": instance, "slot": id, "used": false, "now": now},
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("allocator: created id pool", "instance", instance, "size", size)
	a.monitor.setFree(instance, size)
	return nil
}

func (a *allocator) Allocate(ctx context.Context, instance, kind string) (int, bool, error) {
	defer a.lock(instance)()
	for range maxClaimAttempts {
		var candidates []Slot
		_, err := a.db.WithContext(ctx).Select(&candidates, `
			SELECT * FROM firewall_ids
			WHERE firewall_instance = :instance AND used = :used
			ORDER BY slot ASC, updated_at ASC LIMIT 1`,
			map[string]any{"instance": instance, "used": false},
		)
		if err != nil {
			return 0, false, err
		}
		if len(candidates) == 0 {
			slog.Warn("allocator: id pool exhausted", "instance", instance, "kind", kind)
			a.monitor.countAllocation("exhausted")
			return 0, false, nil
		}
		slot := candidates[0]
		// Only claim the slot if it is still free.
		res, err := a.db.WithContext(ctx).Exec(`
			UPDATE firewall_ids SET used = :used, kind = :kind, updated_at = :now
			WHERE firewall_instance = :instance AND slot = :slot AND used = :free`,
			map[string]any{
				"used": true, "kind": kind, "now": a.now().Unix(),
				"instance": instance, "slot": slot.ID, "free": false,
			},
		)
		if err != nil {
			return 0, false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, false, err
		}
		if n == 1 {
			a.monitor.countAllocation("ok")
			a.refreshFree(ctx, instance)
			return slot.ID, true, nil
		}
		slog.Debug("allocator: slot claimed concurrently, retrying", "instance", instance, "slot", slot.ID)
	}
	return 0, false, fmt.Errorf("failed to claim an id on %s after %d attempts", instance, maxClaimAttempts)
}

func (a *allocator) release(exec gorp.SqlExecutor, instance string, id int) (bool, error) {
	res, err := exec.Exec(`
		UPDATE firewall_ids SET used = :free, kind = '', updated_at = :now
		WHERE firewall_instance = :instance AND slot = :slot AND used = :used`,
		map[string]any{
			"free": false, "now": a.now().Unix(),
			"instance": instance, "slot": id, "used": true,
		},
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (a *allocator) Release(ctx context.Context, instance string, id int) (bool, error) {
	defer a.lock(instance)()
	ok, err := a.release(a.db.WithContext(ctx), instance, id)
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Warn("allocator: released id that was not in use", "instance", instance, "id", id)
	}
	a.refreshFree(ctx, instance)
	return ok, nil
}

func (a *allocator) ReleaseMany(ctx context.Context, instance string, ids []int) (int, error) {
	defer a.lock(instance)()
	released := 0
	err := a.db.InTransaction(func(tx *gorp.Transaction) error {
		exec := tx.WithContext(ctx)
		for _, id := range ids {
			ok, err := a.release(exec, instance, id)
			if err != nil {
				return err
			}
			if ok {
				released++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.refreshFree(ctx, instance)
	return released, nil
}

func (a *allocator) DestroyPool(ctx context.Context, instance string) error {
	defer a.lock(instance)()
	_, err := a.db.WithContext(ctx).Exec(
		"DELETE FROM firewall_ids WHERE firewall_instance = :instance",
		map[string]any{"instance": instance},
	)
	if err != nil {
		return err
	}
	slog.Info("allocator: destroyed id pool", "instance", instance)
	a.monitor.deleteFree(instance)
	return nil
}

func (a *allocator) InUse(ctx context.Context, instance string) (map[int]string, error) {
	var slots []Slot
	_, err := a.db.WithContext(ctx).Select(&slots, `
		SELECT * FROM firewall_ids
		WHERE firewall_instance = :instance AND used = :used ORDER BY slot`,
		map[string]any{"instance": instance, "used": true},
	)
	if err != nil {
		return nil, err
	}
	ids := make(map[int]string, len(slots))
	for _, s := range slots {
		ids[s.ID] = s.Kind
	}
	return ids, nil
}

// Update the free slot gauge. Failures only affect the metric.
func (a *allocator) refreshFree(ctx context.Context, instance string) {
	if a.monitor.freeSlots == nil {
		return
	}
	n, err := a.db.WithContext(ctx).SelectInt(
		"SELECT COUNT(*) FROM firewall_ids WHERE firewall_instance = :instance AND used = :used",
		map[string]any{"instance": instance, "used": false},
	)
	if err != nil {
		slog.Error("allocator: failed to count free ids", "instance", instance, "error", err)
		return
	}
	a.monitor.setFree(instance, int(n))
}
