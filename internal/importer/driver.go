package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"gtfs-live/internal/feed"
	"gtfs-live/internal/fingerprint"
	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/logging"
	"gtfs-live/internal/metrics"
	"gtfs-live/internal/publisher"
	"gtfs-live/internal/store"
)

// Store is everything the driver needs from the dataset.
type Store interface {
	StagingWriter
	RebuildTripStops(ctx context.Context, carrier string) (int, error)
	Cutover(ctx context.Context) error
	BackupLiveIntoStaging(ctx context.Context) error
	StagingDirty(ctx context.Context) (bool, error)
	LockImports(ctx context.Context) (func() error, error)
	StartRun(ctx context.Context, r store.Run) error
	FinishRun(ctx context.Context, runID, state, outcome string, rows int64, runErr error) error
}

// Fetcher downloads a feed archive to a local path.
type Fetcher interface {
	Download(ctx context.Context, url string) (string, error)
}

// Notifier receives the outcome of every run.
type Notifier interface {
	PublishOutcome(o publisher.Outcome) error
}

// Config bounds a run.
type Config struct {
	BatchSize       int
	DownloadTimeout time.Duration
	BatchTimeout    time.Duration
	CutoverTimeout  time.Duration
}

// Result describes a finished run.
type Result struct {
	RunID      string
	Carrier    string
	Outcome    Outcome
	State      State
	Descriptor feed.Descriptor
	Rows       int64
}

// Driver runs the import pipeline. Runs are serialised because every
// carrier shares the staging tables.
type Driver struct {
	store    Store
	source   feed.Source
	detector *fingerprint.Detector
	fetcher  Fetcher
	notifier Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger
	cfg      Config

	mu     sync.Mutex // one run at a time
	stMu   sync.RWMutex
	states map[string]State
}

func NewDriver(s Store, src feed.Source, det *fingerprint.Detector, f Fetcher, n Notifier, m *metrics.Collector, logger *slog.Logger, cfg Config) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = feed.DefaultBatchSize
	}
	return &Driver{
		store:    s,
		source:   src,
		detector: det,
		fetcher:  f,
		notifier: n,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		states:   make(map[string]State),
	}
}

// State returns the current state of carrier's pipeline.
func (d *Driver) State(carrier string) State {
	d.stMu.RLock()
	defer d.stMu.RUnlock()
	return d.states[carrier]
}

// run carries the bookkeeping of one pipeline execution.
type run struct {
	d         *Driver
	res       Result
	logger    *slog.Logger
	started   time.Time
	entered   time.Time
	ledgerRow bool
}

func (r *run) enter(s State) {
	prev := r.res.State
	r.res.State = s
	r.d.stMu.Lock()
	r.d.states[r.res.Carrier] = s
	r.d.stMu.Unlock()
	r.d.metrics.State(r.res.Carrier, int(s), time.Since(r.entered), prev.String())
	r.entered = time.Now()
	r.logger.Info("pipeline state", "from", prev.String(), "to", s.String())
}

// Run executes one full cycle for carrier: detect, download, stage, build
// trip stops and cut over. Live data is only changed by a successful
// cutover.
func (d *Driver) Run(ctx context.Context, carrier string) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	runID := uuid.NewString()
	r := &run{
		d:       d,
		res:     Result{RunID: runID, Carrier: carrier, Outcome: OutcomeRunning, State: Idle},
		logger:  d.logger.With("carrier", carrier, "run_id", runID),
		started: time.Now(),
	}
	r.entered = r.started
	ctx = logging.WithLogger(ctx, r.logger)

	r.enter(Detecting)
	desc, err := d.source.Descriptor(ctx, carrier)
	if err != nil {
		r.logger.Error("feed descriptor lookup failed", "error", err)
		return r.skip(ctx, err)
	}
	r.res.Descriptor = desc
	if !d.detector.IsNew(ctx, desc) {
		r.logger.Info("feed unchanged, skipping", "fingerprint", desc.Fingerprint)
		return r.skip(ctx, nil)
	}

	unlock, err := d.store.LockImports(ctx)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("import lock: %w", err))
	}
	defer func() {
		if err := unlock(); err != nil {
			r.logger.Warn("import lock release failed", "error", err)
		}
	}()

	if err := d.store.StartRun(ctx, store.Run{
		RunID: runID, Carrier: carrier, Fingerprint: desc.Fingerprint,
		State: Detecting.String(), Outcome: string(OutcomeRunning), StartedAt: r.started,
	}); err != nil {
		r.logger.Warn("run ledger unavailable", "error", err)
	} else {
		r.ledgerRow = true
	}

	r.enter(Downloading)
	path, err := d.download(ctx, desc.URL)
	if err != nil {
		return r.fail(ctx, err)
	}
	defer os.Remove(path)

	r.enter(Staging)
	rows, err := d.stage(ctx, r, path)
	r.res.Rows = rows
	if err != nil {
		return r.fail(ctx, err)
	}

	r.enter(BuildingDerivedView)
	n, err := d.store.RebuildTripStops(ctx, carrier)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("rebuild trip stops: %w", err))
	}
	r.logger.Info("trip stops rebuilt", "trips", n)

	r.enter(CuttingOver)
	if err := d.cutover(ctx); err != nil {
		return r.fail(ctx, err)
	}
	// The fingerprint is only recorded once its data is live. If this write
	// fails the next run imports the same version again.
	if err := d.detector.Commit(context.WithoutCancel(ctx), r.res.Descriptor); err != nil {
		r.logger.Error("fingerprint commit failed after cutover", "error", err)
	}
	if err := d.store.BackupLiveIntoStaging(ctx); err != nil {
		// Live is already promoted; the next run reseeds staging first.
		r.logger.Error("backup of live into staging failed", "error", err)
	}

	r.enter(Idle)
	r.res.Outcome = OutcomeSucceeded
	r.finish(ctx, nil)
	return r.res, nil
}

func (d *Driver) download(ctx context.Context, url string) (string, error) {
	if d.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DownloadTimeout)
		defer cancel()
	}
	return d.fetcher.Download(ctx, url)
}

func (d *Driver) stage(ctx context.Context, r *run, path string) (int64, error) {
	dirty, err := d.store.StagingDirty(ctx)
	if err != nil {
		return 0, err
	}
	if dirty {
		r.logger.Warn("staging out of step with live, reseeding before load")
		if err := d.store.BackupLiveIntoStaging(ctx); err != nil {
			return 0, fmt.Errorf("reseed staging: %w", err)
		}
	}

	a, err := feed.OpenArchive(path)
	if err != nil {
		return 0, err
	}
	defer a.Close()

	loader := NewLoader(d.store, r.res.Carrier, d.cfg.BatchTimeout, d.logger, d.metrics)
	if err := loader.Begin(ctx); err != nil {
		return 0, err
	}

	var total int64
	for _, e := range gtfs.ImportOrder {
		if !a.Has(e) {
			r.logger.Warn("entity file missing from feed, skipping", "entity", e.String())
			continue
		}
		start := time.Now()
		var loaded int
		_, err := a.Stream(e, d.cfg.BatchSize, func(rows []gtfs.Row) error {
			n, err := loader.LoadBatch(ctx, e, rows)
			loaded += n
			return err
		})
		total += int64(loaded)
		if errors.Is(err, feed.ErrUnreadableFile) {
			r.logger.Warn("entity file unreadable, skipping", "entity", e.String(), "error", err)
			continue
		}
		if err != nil {
			return total, fmt.Errorf("stage %s: %w", e, err)
		}
		r.logger.Info("entity staged", "entity", e.String(), "rows", loaded, "duration", time.Since(start))
	}
	return total, nil
}

func (d *Driver) cutover(ctx context.Context) error {
	if d.cfg.CutoverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CutoverTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := d.store.Cutover(ctx); err != nil {
		return err
	}
	d.metrics.CutoverObserve(time.Since(start))
	return nil
}

// fail moves to Failed and reseeds staging from live. Cleanup ignores the
// caller's cancellation.
func (r *run) fail(ctx context.Context, cause error) (Result, error) {
	failedIn := r.res.State
	r.enter(Failed)
	r.res.Outcome = OutcomeFailed
	cleanup := context.WithoutCancel(ctx)

	if failedIn >= Staging {
		if err := r.d.store.BackupLiveIntoStaging(cleanup); err != nil {
			r.logger.Error("reseeding staging from live failed", "error", err)
		}
	}

	serr := &StageError{Carrier: r.res.Carrier, State: failedIn, Err: cause}
	r.logger.Error("import failed", "state", failedIn.String(), "error", cause)
	r.finish(cleanup, serr)
	r.setState(Idle)
	return r.res, serr
}

func (r *run) skip(ctx context.Context, cause error) (Result, error) {
	r.res.Outcome = OutcomeSkipped
	r.enter(Idle)
	if err := r.d.store.StartRun(ctx, store.Run{
		RunID: r.res.RunID, Carrier: r.res.Carrier, Fingerprint: r.res.Descriptor.Fingerprint,
		State: Detecting.String(), Outcome: string(OutcomeSkipped), StartedAt: r.started,
	}); err != nil {
		r.logger.Warn("run ledger unavailable", "error", err)
	} else {
		r.ledgerRow = true
	}
	r.finish(ctx, cause)
	if cause != nil {
		return r.res, &StageError{Carrier: r.res.Carrier, State: Detecting, Err: cause}
	}
	return r.res, nil
}

func (r *run) setState(s State) {
	r.d.stMu.Lock()
	r.d.states[r.res.Carrier] = s
	r.d.stMu.Unlock()
}

func (r *run) finish(ctx context.Context, runErr error) {
	now := time.Now()
	if r.ledgerRow {
		if err := r.d.store.FinishRun(ctx, r.res.RunID, r.res.State.String(), string(r.res.Outcome), r.res.Rows, runErr); err != nil {
			r.logger.Warn("run ledger update failed", "error", err)
		}
	}
	r.d.metrics.RunFinished(r.res.Carrier, string(r.res.Outcome), now)
	if r.d.notifier == nil {
		return
	}
	o := publisher.Outcome{
		RunID:       r.res.RunID,
		Carrier:     r.res.Carrier,
		Outcome:     string(r.res.Outcome),
		State:       r.res.State.String(),
		Fingerprint: r.res.Descriptor.Fingerprint,
		RowsLoaded:  r.res.Rows,
		FinishedAt:  now,
	}
	var serr *StageError
	if errors.As(runErr, &serr) {
		o.State = serr.State.String()
	}
	if runErr != nil {
		o.Error = runErr.Error()
	}
	if err := r.d.notifier.PublishOutcome(o); err != nil {
		r.logger.Warn("outcome publish failed", "error", err)
	}
}

// RunAll runs carriers one after another and returns the joined errors.
func (d *Driver) RunAll(ctx context.Context, carriers []string) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, c := range carriers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := d.Run(ctx, c)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
