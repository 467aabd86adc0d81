package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/metrics"
)

// StagingWriter is the part of the store the loader writes through.
type StagingWriter interface {
	ResetCarrier(ctx context.Context, carrier string) error
	WriteBatch(ctx context.Context, records []gtfs.Record) error
}

// Loader stages one carrier's feed for one run. It is not safe for
// concurrent use.
type Loader struct {
	store        StagingWriter
	carrier      string
	batchTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Collector

	began       bool
	carrierDone bool
}

func NewLoader(store StagingWriter, carrier string, batchTimeout time.Duration, logger *slog.Logger, m *metrics.Collector) *Loader {
	return &Loader{
		store:        store,
		carrier:      carrier,
		batchTimeout: batchTimeout,
		logger:       logger.With("carrier", carrier),
		metrics:      m,
	}
}

// Begin clears the carrier's staging rows. Later calls do nothing.
func (l *Loader) Begin(ctx context.Context) error {
	if l.began {
		return nil
	}
	if err := l.store.ResetCarrier(ctx, l.carrier); err != nil {
		return fmt.Errorf("reset staging: %w", err)
	}
	l.began = true
	return nil
}

// LoadBatch transforms rows and writes them to staging in one transaction.
// The first malformed row aborts the batch. Only the first agency row of a
// run is kept; it becomes the carrier record.
func (l *Loader) LoadBatch(ctx context.Context, entity gtfs.EntityType, rows []gtfs.Row) (int, error) {
	if err := l.Begin(ctx); err != nil {
		return 0, err
	}
	if entity == gtfs.Agency {
		if l.carrierDone || len(rows) == 0 {
			return 0, nil
		}
		rows = rows[:1]
	}

	records := make([]gtfs.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := gtfs.Transform(l.carrier, entity, row)
		if err != nil {
			return 0, err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0, nil
	}

	bctx := ctx
	if l.batchTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, l.batchTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := l.store.WriteBatch(bctx, records); err != nil {
		if errors.Is(bctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%s batch exceeded %s: %w", entity, l.batchTimeout, err)
		}
		return 0, err
	}
	if entity == gtfs.Agency {
		l.carrierDone = true
	}
	l.metrics.Staged(l.carrier, entity.String(), len(records))
	l.logger.Debug("batch staged", "entity", entity.String(), "rows", len(records), "duration", time.Since(start))
	return len(records), nil
}
