// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sapcc/go-bits/easypg"
)

// Wrapper around gorp.DbMap that adds some convenience functions.
type DB struct {
	*gorp.DbMap
}

type Table interface {
	TableName() string
}

// Create a new database for the configured driver.
func New(c conf.DBConfig, monitor Monitor) (DB, error) {
	switch c.Driver {
	case "postgres":
		return NewPostgresDB(c, monitor)
	case "sqlite":
		return NewSqliteDB(c.Path)
	default:
		return DB{}, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// Create a new postgres database and wait until it is connected.
func NewPostgresDB(c conf.DBConfig, monitor Monitor) (DB, error) {
	stripYaml := func(s string) string { return strings.ReplaceAll(s, "\n", "") }
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          stripYaml(c.Host),
		Port:              stripYaml(c.Port),
		UserName:          stripYaml(c.User),
		Password:          stripYaml(c.Password),
		ConnectionOptions: "sslmode=disable",
		DatabaseName:      stripYaml(c.Database),
	})
	if err != nil {
		return DB{}, err
	}
	slog.Info("connecting to database", "host", c.Host, "database", c.Database)
	sqlDB, err := sql.Open("postgres", dbURL.String())
	if err != nil {
		return DB{}, err
	}
	// If the wait time exceeds 10 seconds, we will give up.
	maxRetries := 10
	for i := range maxRetries {
		if monitor.connectionAttempts != nil {
			monitor.connectionAttempts.Inc()
		}
		err := sqlDB.Ping()
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			return DB{}, fmt.Errorf("giving up connecting to database: %w", err)
		}
		slog.Error("failed to connect to database, retrying...", "error", err)
		time.Sleep(1 * time.Second)
	}
	sqlDB.SetMaxOpenConns(16)
	dbMap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
	slog.Info("database is ready")
	return DB{DbMap: dbMap}, nil
}

// Create a new sqlite database at the given path.
func NewSqliteDB(path string) (DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return DB{}, err
	}
	// Sqlite only supports one writer at a time.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		return DB{}, err
	}
	dbMap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
	slog.Info("database is ready", "path", path)
	return DB{DbMap: dbMap}, nil
}

// Adds missing functionality to gorp.DbMap which creates one table.
func (d *DB) CreateTable(table ...*gorp.TableMap) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	for _, t := range table {
		slog.Info("creating table", "table", t.TableName)
		sql := t.SqlForCreate(true) // true means to add IF NOT EXISTS
		if _, err := tx.Exec(sql); err != nil {
			return errorsJoinRollback(tx, err)
		}
	}
	return tx.Commit()
}

// Adds a Model table to the database.
func (d *DB) AddTable(t Table) *gorp.TableMap {
	return d.AddTableWithName(t, t.TableName())
}

// Check if a table exists in the database.
func (d *DB) TableExists(t Table) bool {
	var query string
	if d.IsSqlite() {
		query = "SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = :table_name"
	} else {
		query = `SELECT EXISTS (
			SELECT 1
			FROM   information_schema.tables
			WHERE  table_name = :table_name
		)`
	}
	var exists bool
	err := d.SelectOne(&exists, query, map[string]any{"table_name": t.TableName()})
	if err != nil {
		slog.Error("failed to check if table exists", "error", err)
		return false
	}
	return exists
}

// If the database is backed by sqlite.
func (d *DB) IsSqlite() bool {
	_, ok := d.Dialect.(gorp.SqliteDialect)
	return ok
}

// Convenience function to the database connection.
func (d *DB) Close() {
	if err := d.Db.Close(); err != nil {
		slog.Error("failed to close database connection", "error", err)
	}
}

// Rollback the transaction and return the original error, annotated
// with the rollback error if the rollback also failed.
func errorsJoinRollback(tx *gorp.Transaction, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
	}
	return err
}

// Run fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (d *DB) InTransaction(fn func(tx *gorp.Transaction) error) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return errorsJoinRollback(tx, err)
	}
	return tx.Commit()
}
