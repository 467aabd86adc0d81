package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/gtfs"
)

type postgres struct{}

func (postgres) Name() string       { return "postgres" }
func (postgres) DriverName() string { return "pgx" }

func (postgres) Configure(x *sqlx.DB) {
	x.SetMaxOpenConns(20)
	x.SetMaxIdleConns(5)
	x.SetConnMaxLifetime(30 * time.Minute)
}

func (postgres) ColumnType(t gtfs.ColumnType) string {
	switch t {
	case gtfs.ColInt:
		return "BIGINT"
	case gtfs.ColFloat:
		return "DOUBLE PRECISION"
	case gtfs.ColDate:
		return "DATE"
	case gtfs.ColJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (postgres) IdentityColumn() string {
	return "id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (postgres) TimestampType() string { return "TIMESTAMPTZ" }

func (postgres) JSONArrayAgg(expr, orderBy string) string {
	return fmt.Sprintf("jsonb_agg(%s ORDER BY %s)", expr, orderBy)
}

// WriteBatch uses COPY on a pgx transaction borrowed from the pool.
func (postgres) WriteBatch(ctx context.Context, x *sqlx.DB, b batch) error {
	conn, err := x.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver conn %T", driverConn)
		}
		tx, err := sc.Conn().Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		for _, s := range b.before {
			if _, err := tx.Exec(ctx, sqlx.Rebind(sqlx.DOLLAR, s.query), s.args...); err != nil {
				return err
			}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{b.table}, b.columns, pgx.CopyFromRows(b.rows))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", b.table, err)
		}
		if int(n) != len(b.rows) {
			return fmt.Errorf("copy into %s: wrote %d of %d rows", b.table, n, len(b.rows))
		}
		return tx.Commit(ctx)
	})
}

func (postgres) ResyncIdentity(ctx context.Context, tx *sqlx.Tx, table string) error {
	q := fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)`,
		table)
	_, err := tx.ExecContext(ctx, q)
	return err
}

// BeginSnapshot share-locks every live table up front, in cutover order.
// Cutover renames need exclusive locks, so it waits for the snapshot and
// the two never deadlock.
func (postgres) BeginSnapshot(ctx context.Context, x *sqlx.DB) (*sqlx.Tx, error) {
	tx, err := x.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	names := make([]string, len(gtfs.GenerationTables))
	for i, t := range gtfs.GenerationTables {
		names[i] = t.Name
	}
	if _, err := tx.ExecContext(ctx, "LOCK TABLE "+strings.Join(names, ", ")+" IN ACCESS SHARE MODE"); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("lock live tables: %w", err)
	}
	return tx, nil
}

// Lock holds a session advisory lock on a dedicated connection.
func (postgres) Lock(ctx context.Context, x *sqlx.DB, key int64) (func() error, error) {
	conn, err := x.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	return func() error {
		defer conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key)
		return err
	}, nil
}
