package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/gtfs"
)

// Dialect hides the differences between the supported engines. Both have
// transactional DDL, which the rename-based cutover depends on.
type Dialect interface {
	Name() string
	DriverName() string
	Configure(x *sqlx.DB)

	ColumnType(t gtfs.ColumnType) string
	IdentityColumn() string
	TimestampType() string
	// JSONArrayAgg aggregates expr into a JSON array ordered by orderBy.
	JSONArrayAgg(expr, orderBy string) string

	// WriteBatch runs b.before and then bulk-inserts b.rows, all in one
	// transaction.
	WriteBatch(ctx context.Context, x *sqlx.DB, b batch) error
	// ResyncIdentity moves table's id generator past its largest id.
	ResyncIdentity(ctx context.Context, tx *sqlx.Tx, table string) error
	// Lock takes a cross-process import lock, released by the returned func.
	Lock(ctx context.Context, x *sqlx.DB, key int64) (func() error, error)
	// BeginSnapshot opens a transaction whose reads all come from one
	// generation of the live tables.
	BeginSnapshot(ctx context.Context, x *sqlx.DB) (*sqlx.Tx, error)
}

type statement struct {
	query string // ? placeholders
	args  []any
}

type batch struct {
	table   string
	columns []string
	rows    [][]any
	before  []statement
}

func insertSQL(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
}

func insertIgnoreSQL(table string, columns, conflict []string) string {
	return insertSQL(table, columns) + " ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO NOTHING"
}
