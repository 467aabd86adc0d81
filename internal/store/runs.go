package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Run is one import_runs ledger row.
type Run struct {
	RunID       string         `db:"run_id"`
	Carrier     string         `db:"carrier_code"`
	Fingerprint string         `db:"fingerprint"`
	State       string         `db:"state"`
	Outcome     string         `db:"outcome"`
	Error       sql.NullString `db:"error"`
	RowsLoaded  int64          `db:"rows_loaded"`
	StartedAt   time.Time      `db:"started_at"`
	FinishedAt  sql.NullTime   `db:"finished_at"`
}

// StartRun records a run that has just begun.
func (db *DB) StartRun(ctx context.Context, r Run) error {
	q := db.rebind(`
INSERT INTO import_runs (run_id, carrier_code, fingerprint, state, outcome, rows_loaded, started_at)
VALUES (?, ?, ?, ?, ?, 0, ?)`)
	if _, err := db.x.ExecContext(ctx, q, r.RunID, r.Carrier, r.Fingerprint, r.State, r.Outcome, r.StartedAt.UTC()); err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun stores the final state and outcome of a run.
func (db *DB) FinishRun(ctx context.Context, runID, state, outcome string, rows int64, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	q := db.rebind(`
UPDATE import_runs
SET state = ?, outcome = ?, rows_loaded = ?, error = ?, finished_at = ?
WHERE run_id = ?`)
	if _, err := db.x.ExecContext(ctx, q, state, outcome, rows, msg, time.Now().UTC(), runID); err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// LatestSuccessfulRun returns the most recent succeeded run of carrier.
func (db *DB) LatestSuccessfulRun(ctx context.Context, carrier string) (Run, error) {
	carrier = strings.TrimSpace(carrier)
	if carrier == "" {
		return Run{}, fmt.Errorf("carrier is required")
	}
	var r Run
	q := db.rebind(`
SELECT run_id, carrier_code, fingerprint, state, outcome, error, rows_loaded, started_at, finished_at
FROM import_runs
WHERE carrier_code = ? AND outcome = 'succeeded'
ORDER BY started_at DESC
LIMIT 1`)
	if err := db.x.GetContext(ctx, &r, q, carrier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("no successful run for %s: %w", carrier, ErrNotFound)
		}
		return Run{}, err
	}
	return r, nil
}

// Runs lists the ledger of carrier, newest first.
func (db *DB) Runs(ctx context.Context, carrier string, limit int) ([]Run, error) {
	var runs []Run
	q := db.rebind(`
SELECT run_id, carrier_code, fingerprint, state, outcome, error, rows_loaded, started_at, finished_at
FROM import_runs
WHERE carrier_code = ?
ORDER BY started_at DESC
LIMIT ?`)
	if err := db.x.SelectContext(ctx, &runs, q, carrier, limit); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return runs, nil
}

// importLockKey is the advisory lock id guarding the shared staging tables.
const importLockKey int64 = 0x67746673 // "gtfs"

// LockImports serialises import runs across processes. The returned func
// releases the lock.
func (db *DB) LockImports(ctx context.Context) (func() error, error) {
	return db.dialect.Lock(ctx, db.x, importLockKey)
}
