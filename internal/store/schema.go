package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/gtfs"
)

// createTableSQL renders one generation table for the dialect.
func createTableSQL(d Dialect, t *gtfs.Table, name string) string {
	defs := make([]string, 0, len(t.Columns)+3)
	if t.Identity {
		defs = append(defs, d.IdentityColumn())
	}
	for _, c := range t.Columns {
		def := c.Name + " " + d.ColumnType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(t.PrimaryKey, ", ")+")")
	}
	if len(t.Unique) > 0 {
		defs = append(defs, "UNIQUE ("+strings.Join(t.Unique, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", name, strings.Join(defs, ",\n\t"))
}

// EnsureSchema creates both generations of every table plus the run ledger.
// Existing tables are left alone.
func (db *DB) EnsureSchema(ctx context.Context) error {
	return db.inTx(ctx, "ensure schema", func(tx *sqlx.Tx) error {
		for _, t := range gtfs.GenerationTables {
			for _, name := range []string{t.Name, t.StagingName()} {
				if _, err := tx.ExecContext(ctx, createTableSQL(db.dialect, t, name)); err != nil {
					return fmt.Errorf("create %s: %w", name, err)
				}
				idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_carrier_idx ON %s (carrier_code)", name, name)
				if _, err := tx.ExecContext(ctx, idx); err != nil {
					return fmt.Errorf("index %s: %w", name, err)
				}
			}
		}
		ts := db.dialect.TimestampType()
		ddl := []string{
			`CREATE TABLE IF NOT EXISTS import_runs (
	run_id TEXT PRIMARY KEY,
	carrier_code TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	state TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	rows_loaded BIGINT NOT NULL DEFAULT 0,
	started_at ` + ts + ` NOT NULL,
	finished_at ` + ts + `
)`,
			`CREATE INDEX IF NOT EXISTS import_runs_carrier_idx ON import_runs (carrier_code, started_at)`,
			`CREATE TABLE IF NOT EXISTS staging_state (
	id INTEGER PRIMARY KEY,
	dirty INTEGER NOT NULL
)`,
			`INSERT INTO staging_state (id, dirty) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
		}
		for _, q := range ddl {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

// markStaging records whether staging has diverged from live.
func markStaging(ctx context.Context, tx *sqlx.Tx, dirty bool) error {
	v := 0
	if dirty {
		v = 1
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE staging_state SET dirty = ? WHERE id = 1`), v)
	return err
}

// StagingDirty reports whether the last run left staging out of step with
// live, e.g. after a crash between cutover and backup.
func (db *DB) StagingDirty(ctx context.Context) (bool, error) {
	var dirty int
	if err := db.x.GetContext(ctx, &dirty, `SELECT dirty FROM staging_state WHERE id = 1`); err != nil {
		return false, fmt.Errorf("read staging state: %w", err)
	}
	return dirty != 0, nil
}
