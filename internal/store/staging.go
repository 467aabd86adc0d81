package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/gtfs"
)

// ResetCarrier deletes every staged row of carrier in one transaction.
func (db *DB) ResetCarrier(ctx context.Context, carrier string) error {
	return db.inTx(ctx, "reset staging "+carrier, func(tx *sqlx.Tx) error {
		if err := markStaging(ctx, tx, true); err != nil {
			return err
		}
		for _, t := range gtfs.GenerationTables {
			q := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE carrier_code = ?", t.StagingName()))
			if _, err := tx.ExecContext(ctx, q, carrier); err != nil {
				return fmt.Errorf("clear %s: %w", t.StagingName(), err)
			}
		}
		return nil
	})
}

// WriteBatch inserts records, which must all target the same table, into
// staging as one transaction. Parent rows derived from the records are
// inserted first with conflicts ignored.
func (db *DB) WriteBatch(ctx context.Context, records []gtfs.Record) error {
	if len(records) == 0 {
		return nil
	}
	table := records[0].Table()
	b := batch{
		table:   table.StagingName(),
		columns: table.ColumnNames(),
		rows:    make([][]any, 0, len(records)),
	}

	seen := make(map[string]bool)
	for _, r := range records {
		if r.Table() != table {
			return fmt.Errorf("batch mixes %s and %s", table.Name, r.Table().Name)
		}
		b.rows = append(b.rows, r.Values())

		pr, ok := r.(gtfs.ParentRecord)
		if !ok {
			continue
		}
		parent := pr.Parent()
		pt := parent.Table()
		vals := parent.Values()
		k := fmt.Sprintf("%q", vals)
		if seen[k] {
			continue
		}
		seen[k] = true
		b.before = append(b.before, statement{
			query: insertIgnoreSQL(pt.StagingName(), pt.ColumnNames(), pt.PrimaryKey),
			args:  vals,
		})
	}

	if err := db.dialect.WriteBatch(ctx, db.x, b); err != nil {
		return fmt.Errorf("write %d rows to %s: %w", len(records), b.table, err)
	}
	return nil
}

// StagedCount returns the number of staged rows of carrier in table.
func (db *DB) StagedCount(ctx context.Context, t *gtfs.Table, carrier string) (int, error) {
	return db.count(ctx, t.StagingName(), carrier)
}

// LiveCount returns the number of live rows of carrier in table.
func (db *DB) LiveCount(ctx context.Context, t *gtfs.Table, carrier string) (int, error) {
	return db.count(ctx, t.Name, carrier)
}

func (db *DB) count(ctx context.Context, table, carrier string) (int, error) {
	var n int
	q := db.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE carrier_code = ?", table))
	if err := db.x.GetContext(ctx, &n, q, carrier); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
