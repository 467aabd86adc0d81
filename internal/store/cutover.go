package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/gtfs"
)

// Cutover swaps the staging and live generations of every table in one
// transaction: live becomes <name>_old, staging becomes live, and _old
// becomes staging. Readers see either the whole old or the whole new
// generation. On error nothing is renamed.
func (db *DB) Cutover(ctx context.Context) error {
	start := time.Now()
	err := db.inTx(ctx, "cutover", func(tx *sqlx.Tx) error {
		for _, t := range gtfs.GenerationTables {
			old := t.Name + "_old"
			for _, r := range [][2]string{{t.Name, old}, {t.StagingName(), t.Name}, {old, t.StagingName()}} {
				q := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", r[0], r[1])
				if _, err := tx.ExecContext(ctx, q); err != nil {
					return fmt.Errorf("rename %s to %s: %w", r[0], r[1], err)
				}
			}
		}
		return markStaging(ctx, tx, true)
	})
	if err != nil {
		return err
	}
	db.logger.Info("cutover complete", slog.Duration("duration", time.Since(start)), slog.Int("tables", len(gtfs.GenerationTables)))
	return nil
}

// BackupLiveIntoStaging makes staging an exact copy of live in one
// transaction, carrier by carrier, then moves identity generators past the
// copied ids.
func (db *DB) BackupLiveIntoStaging(ctx context.Context) error {
	start := time.Now()
	var copied int64
	err := db.inTx(ctx, "backup live into staging", func(tx *sqlx.Tx) error {
		for _, t := range gtfs.GenerationTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t.StagingName()); err != nil {
				return fmt.Errorf("clear %s: %w", t.StagingName(), err)
			}
		}

		carriers, err := liveCarriers(ctx, tx)
		if err != nil {
			return err
		}
		for _, carrier := range carriers {
			for _, t := range gtfs.GenerationTables {
				cols := t.ColumnNames()
				if t.Identity {
					cols = append([]string{"id"}, cols...)
				}
				list := strings.Join(cols, ", ")
				q := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE carrier_code = ?",
					t.StagingName(), list, list, t.Name))
				res, err := tx.ExecContext(ctx, q, carrier)
				if err != nil {
					return fmt.Errorf("copy %s for %s: %w", t.Name, carrier, err)
				}
				if n, err := res.RowsAffected(); err == nil {
					copied += n
				}
			}
		}

		for _, t := range gtfs.GenerationTables {
			if !t.Identity {
				continue
			}
			if err := db.dialect.ResyncIdentity(ctx, tx, t.StagingName()); err != nil {
				return fmt.Errorf("resync %s: %w", t.StagingName(), err)
			}
		}
		return markStaging(ctx, tx, false)
	})
	if err != nil {
		return err
	}
	db.logger.Info("live copied into staging",
		slog.Duration("duration", time.Since(start)), slog.Int64("rows", copied))
	return nil
}

// liveCarriers lists every carrier owning a row in any live table.
func liveCarriers(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	parts := make([]string, len(gtfs.GenerationTables))
	for i, t := range gtfs.GenerationTables {
		parts[i] = "SELECT carrier_code FROM " + t.Name
	}
	var carriers []string
	q := strings.Join(parts, " UNION ") + " ORDER BY carrier_code"
	if err := tx.SelectContext(ctx, &carriers, q); err != nil {
		return nil, fmt.Errorf("list live carriers: %w", err)
	}
	return carriers, nil
}
