// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package bindings

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/db"
	"github.com/go-gorp/gorp"
	"github.com/prometheus/client_golang/prometheus"
)

// One flattened key of a tenant binding.
type row struct {
	TenantID           string `db:"tenant_id"`
	ControllerTenantID string `db:"controller_tenant_id"`
	Key                string `db:"binding_key"`
	Value              string `db:"binding_value"`
}

func (row) TableName() string { return "tenant_bindings" }

// Durable per-tenant binding records.
//
// Add, Set and Delete return false without an error when the
// precondition on the existing state does not hold.
type Store interface {
	// Get the record of the tenant. The bool is false if there is none.
	Get(ctx context.Context, tenantID string) (Record, bool, error)
	// Add a record for a tenant that has none yet.
	Add(ctx context.Context, r Record) (bool, error)
	// Replace the existing record of the tenant with r. Only the
	// keys that differ from the stored record are written.
	Set(ctx context.Context, r Record) (bool, error)
	// Delete the record of the tenant.
	Delete(ctx context.Context, tenantID string) (bool, error)
	// List all tenants that have a record.
	ListTenants(ctx context.Context) ([]string, error)
}

type store struct {
	db      db.DB
	monitor Monitor
	// Serializes read-modify-write cycles against the table.
	mu sync.Mutex
}

// Create a new binding store on the given (migrated) database.
func NewStore(d db.DB, m Monitor) Store {
	return &store{db: d, monitor: m}
}

func (s *store) observe(op string, ok bool, t time.Time) {
	if s.monitor.opsTimer == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	s.monitor.opsTimer.
		With(prometheus.Labels{"op": op, "result": result}).
		Observe(time.Since(t).Seconds())
}

func selectRows(exec gorp.SqlExecutor, tenantID string) ([]row, error) {
	var rows []row
	_, err := exec.Select(&rows, `
		SELECT tenant_id, controller_tenant_id, binding_key, binding_value
		FROM tenant_bindings WHERE tenant_id = :tenant_id`,
		map[string]any{"tenant_id": tenantID},
	)
	return rows, err
}

func insertRow(exec gorp.SqlExecutor, r row) error {
	_, err := exec.Exec(`
		INSERT INTO tenant_bindings (tenant_id, controller_tenant_id, binding_key, binding_value)
		VALUES (:tenant_id, :controller_tenant_id, :binding_key, :binding_value)`,
		map[string]any{
			"tenant_id":            r.TenantID,
			"controller_tenant_id": r.ControllerTenantID,
			"binding_key":          r.Key,
			"binding_value":        r.Value,
		},
	)
	return err
}

func (s *store) Get(ctx context.Context, tenantID string) (Record, bool, error) {
	defer s.observe("get", true, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := selectRows(s.db.WithContext(ctx), tenantID)
	if err != nil {
		return Record{}, false, err
	}
	if len(rows) == 0 {
		return Record{}, false, nil
	}
	kv := make(map[string]string, len(rows))
	for _, r := range rows {
		kv[r.Key] = r.Value
	}
	return ParseRecord(tenantID, rows[0].ControllerTenantID, kv), true, nil
}

func (s *store) Add(ctx context.Context, r Record) (ok bool, err error) {
	t := time.Now()
	defer func() { s.observe("add", ok, t) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.InTransaction(func(tx *gorp.Transaction) error {
		exec := tx.WithContext(ctx)
		existing, err := selectRows(exec, r.TenantID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		for key, value := range r.Flatten() {
			err := insertRow(exec, row{
				TenantID:           r.TenantID,
				ControllerTenantID: r.ControllerTenantID,
				Key:                key,
				Value:              value,
			})
			if err != nil {
				return err
			}
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Warn("bindings: record already exists", "tenant", r.TenantID)
	}
	return ok, nil
}

func (s *store) Set(ctx context.Context, r Record) (ok bool, err error) {
	t := time.Now()
	defer func() { s.observe("set", ok, t) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.InTransaction(func(tx *gorp.Transaction) error {
		exec := tx.WithContext(ctx)
		existing, err := selectRows(exec, r.TenantID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return nil
		}
		old := make(map[string]string, len(existing))
		for _, e := range existing {
			old[e.Key] = e.Value
		}
		inserts, updates, deletes := Diff(old, r.Flatten())
		for key, value := range inserts {
			err := insertRow(exec, row{
				TenantID:           r.TenantID,
				ControllerTenantID: r.ControllerTenantID,
				Key:                key,
				Value:              value,
			})
			if err != nil {
				return err
			}
		}
		for key, value := range updates {
			_, err := exec.Exec(`
				UPDATE tenant_bindings SET binding_value = :binding_value
				WHERE tenant_id = :tenant_id AND binding_key = :binding_key`,
				map[string]any{"tenant_id": r.TenantID, "binding_key": key, "binding_value": value},
			)
			if err != nil {
				return err
			}
		}
		for _, key := range deletes {
			_, err := exec.Exec(`
				DELETE FROM tenant_bindings
				WHERE tenant_id = :tenant_id AND binding_key = :binding_key`,
				map[string]any{"tenant_id": r.TenantID, "binding_key": key},
			)
			if err != nil {
				return err
			}
		}
		if existing[0].ControllerTenantID != r.ControllerTenantID {
			_, err := exec.Exec(`
				UPDATE tenant_bindings SET controller_tenant_id = :controller_tenant_id
				WHERE tenant_id = :tenant_id`,
				map[string]any{"tenant_id": r.TenantID, "controller_tenant_id": r.ControllerTenantID},
			)
			if err != nil {
				return err
			}
		}
		slog.Debug(
			"bindings: applied record diff", "tenant", r.TenantID,
			"inserts", len(inserts), "updates", len(updates), "deletes", len(deletes),
		)
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *store) Delete(ctx context.Context, tenantID string) (ok bool, err error) {
	t := time.Now()
	defer func() { s.observe("delete", ok, t) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.WithContext(ctx).Exec(
		"DELETE FROM tenant_bindings WHERE tenant_id = :tenant_id",
		map[string]any{"tenant_id": tenantID},
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *store) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tenants []string
	_, err := s.db.WithContext(ctx).Select(
		&tenants,
		"SELECT DISTINCT tenant_id FROM tenant_bindings ORDER BY tenant_id",
	)
	return tenants, err
}

// Compute the key-level difference between two flattened records.
// Deletes are returned sorted.
func Diff(old, updated map[string]string) (inserts, updates map[string]string, deletes []string) {
	inserts = map[string]string{}
	updates = map[string]string{}
	for key, value := range updated {
		prev, ok := old[key]
		switch {
		case !ok:
			inserts[key] = value
		case prev != value:
			updates[key] = value
		}
	}
	for key := range old {
		if _, ok := updated[key]; !ok {
			deletes = append(deletes, key)
		}
	}
	sort.Strings(deletes)
	return inserts, updates, deletes
}
