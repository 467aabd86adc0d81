// Package store owns the relational dataset: the live and staging
// generations of every GTFS table, the cutover between them, and the reads
// the projector needs.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/logging"
)

// ErrNotFound is returned by live reads that match no row.
var ErrNotFound = errors.New("not found")

// SQLitePrefix marks a DSN as an SQLite database path.
const SQLitePrefix = "sqlite:"

// DB is a store handle bound to one SQL dialect.
type DB struct {
	x       *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to Postgres, or to SQLite when dsn starts with "sqlite:".
func Open(dsn string, logger *slog.Logger) (*DB, error) {
	var d Dialect = postgres{}
	if strings.HasPrefix(dsn, SQLitePrefix) {
		d = sqlite{}
		dsn = sqliteDSN(strings.TrimPrefix(dsn, SQLitePrefix))
	}
	x, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	d.Configure(x)
	return &DB{x: x, dialect: d, logger: logger}, nil
}

// Ping checks connectivity with a short timeout.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.x.PingContext(ctx)
}

func (db *DB) Close() error { return db.x.Close() }

// Dialect returns the engine name, "postgres" or "sqlite".
func (db *DB) Dialect() string { return db.dialect.Name() }

// SQL exposes the underlying handle for ad-hoc reads.
func (db *DB) SQL() *sqlx.DB { return db.x }

// inTx runs fn inside one transaction. Rollback failures are logged through
// the logger carried by ctx, falling back to the store's.
func (db *DB) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer logging.SafeRollbackWithLogging(tx, db.loggerFor(ctx), op)
	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func (db *DB) loggerFor(ctx context.Context) *slog.Logger {
	if l, ok := logging.FromContextOK(ctx); ok {
		return l
	}
	return db.logger
}

func (db *DB) rebind(q string) string { return db.x.Rebind(q) }
