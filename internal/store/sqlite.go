package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/logging"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type sqlite struct{}

func (sqlite) Name() string       { return "sqlite" }
func (sqlite) DriverName() string { return "sqlite" }

func (sqlite) Configure(x *sqlx.DB) {
	x.SetMaxOpenConns(8)
}

// ColumnType uses declared types modernc maps back to Go values: DATE and
// TIMESTAMP columns scan into time.Time.
func (sqlite) ColumnType(t gtfs.ColumnType) string {
	switch t {
	case gtfs.ColInt:
		return "INTEGER"
	case gtfs.ColFloat:
		return "REAL"
	case gtfs.ColDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

func (sqlite) IdentityColumn() string { return "id INTEGER PRIMARY KEY" }

func (sqlite) TimestampType() string { return "TIMESTAMP" }

func (sqlite) JSONArrayAgg(expr, orderBy string) string {
	return fmt.Sprintf("json_group_array(%s ORDER BY %s)", expr, orderBy)
}

// WriteBatch runs a prepared insert per row inside one transaction.
func (sqlite) WriteBatch(ctx context.Context, x *sqlx.DB, b batch) error {
	tx, err := x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx, logging.FromContext(ctx), "stage "+b.table)

	for _, s := range b.before {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return err
		}
	}
	stmt, err := tx.PreparexContext(ctx, insertSQL(b.table, b.columns))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", b.table, err)
	}
	defer stmt.Close()
	for _, row := range b.rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert into %s: %w", b.table, err)
		}
	}
	return tx.Commit()
}

// ResyncIdentity is a no-op: INTEGER PRIMARY KEY picks max(rowid)+1.
func (sqlite) ResyncIdentity(context.Context, *sqlx.Tx, string) error { return nil }

// BeginSnapshot opens a plain transaction. The DSN makes it IMMEDIATE, so it
// is serialised with the cutover like any writer.
func (sqlite) BeginSnapshot(ctx context.Context, x *sqlx.DB) (*sqlx.Tx, error) {
	return x.BeginTxx(ctx, nil)
}

// Lock is a no-op; an SQLite file is only written by one importer process.
func (sqlite) Lock(context.Context, *sqlx.DB, int64) (func() error, error) {
	return func() error { return nil }, nil
}
