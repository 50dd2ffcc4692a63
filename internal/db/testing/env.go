// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	"github.com/cobaltcore-dev/tenantnet/internal/db"
	"github.com/cobaltcore-dev/tenantnet/internal/db/testing/containers"
)

type DBEnv struct {
	db.DB
	Close func()
}

// Set up a database for tests. To run tests faster, the default is
// running with sqlite. Set POSTGRES_CONTAINER=1 to run against postgres.
func SetupDBEnv(t *testing.T) DBEnv {
	var env DBEnv
	if os.Getenv("POSTGRES_CONTAINER") == "1" {
		slog.Info("Using real postgres container")
		container := containers.PostgresContainer{}
		container.Init(t)
		pg, err := db.NewPostgresDB(conf.DBConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     container.GetPort(),
			User:     "postgres",
			Password: "secret",
			Database: "tenantnet",
		}, db.Monitor{})
		if err != nil {
			t.Fatal(err)
		}
		env.DB = pg
		env.Close = func() {
			env.DB.Close()
			container.Close()
		}
	} else {
		slog.Info("Using sqlite")
		sqlite, err := db.NewSqliteDB(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatal(err)
		}
		env.DB = sqlite
		env.Close = env.DB.Close
	}
	return env
}

// Set up a database and run all embedded migrations on it.
func SetupMigratedDBEnv(t *testing.T) DBEnv {
	env := SetupDBEnv(t)
	db.NewMigrater(env.DB, db.Monitor{}).Migrate()
	return env
}
