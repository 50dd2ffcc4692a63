// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-gorp/gorp"
)

// Migration files that should be executed before services are started.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// Bookkeeping row for an executed migration.
type Migration struct {
	Name       string `db:"name"`
	ExecutedAt int64  `db:"executed_at"`
}

func (Migration) TableName() string { return "migrations" }

type Migrater interface {
	Migrate()
}

type migrater struct {
	migrations map[string]string
	db         DB
	monitor    Monitor
}

// Create a new migrater with files embedded in the binary.
func NewMigrater(db DB, monitor Monitor) Migrater {
	migrations := map[string]string{}
	files, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		panic(err)
	}
	for _, file := range files {
		if file.IsDir() {
			panic("migrations directory contains a directory")
		}
		content, err := migrationFiles.ReadFile("migrations/" + file.Name())
		if err != nil {
			panic(err)
		}
		migrations[file.Name()] = string(content)
	}
	return &migrater{db: db, migrations: migrations, monitor: monitor}
}

// Run all pending migrations ordered by their file name.
// Migrations that were executed before are skipped.
func (m *migrater) Migrate() {
	m.db.AddTableWithName(Migration{}, Migration{}.TableName()).SetKeys(false, "name")
	if err := m.db.CreateTablesIfNotExists(); err != nil {
		panic(err)
	}
	names := make([]string, 0, len(m.migrations))
	for name := range m.migrations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		count, err := m.db.SelectInt(
			"SELECT COUNT(*) FROM migrations WHERE name = :name",
			map[string]any{"name": name},
		)
		if err != nil {
			panic(err)
		}
		if count > 0 {
			slog.Debug("skipping executed migration", "name", name)
			continue
		}
		slog.Info("executing migration", "name", name)
		err = m.db.InTransaction(func(tx *gorp.Transaction) error {
			if _, err := tx.Exec(m.migrations[name]); err != nil {
				return fmt.Errorf("migration %s: %w", name, err)
			}
			return tx.Insert(&Migration{Name: name, ExecutedAt: time.Now().Unix()})
		})
		if err != nil {
			panic(err)
		}
		if m.monitor.migrationsExecuted != nil {
			m.monitor.migrationsExecuted.Inc()
		}
	}
	slog.Info("migrations executed")
}
