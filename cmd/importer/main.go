package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gtfs-live/internal/config"
	"gtfs-live/internal/feed"
	"gtfs-live/internal/fingerprint"
	"gtfs-live/internal/importer"
	"gtfs-live/internal/logging"
	"gtfs-live/internal/metrics"
	"gtfs-live/internal/publisher"
	"gtfs-live/internal/store"
)

func main() {
	only := flag.String("carriers", "", "comma separated carrier codes to import (default: every carrier in the carriers file)")
	schemaOnly := flag.Bool("schema-only", false, "create missing tables and exit")
	history := flag.Int("history", 0, "print the last N ledger entries per carrier and exit")
	flag.Parse()

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *only, *schemaOnly, *history); err != nil {
		logging.LogError(logger, "import failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, only string, schemaOnly bool, history int) error {
	dsn := cfg.DatabaseURL
	if cfg.DatabaseName != "" {
		var err error
		if dsn, err = store.WithDBName(dsn, cfg.DatabaseName); err != nil {
			return err
		}
	}
	db, err := store.Open(dsn, logger)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(db, logger, "database")
	if err := db.Ping(ctx); err != nil {
		return err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	if schemaOnly {
		logger.Info("schema ready", "dialect", db.Dialect())
		return nil
	}

	carriers, err := config.LoadCarriers(cfg.CarriersFile)
	if err != nil {
		return err
	}
	codes := carriers.Codes()
	if only != "" {
		codes = nil
		for _, c := range strings.Split(only, ",") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := carriers.Find(c); !ok {
				return fmt.Errorf("carrier %q is not in %s", c, cfg.CarriersFile)
			}
			codes = append(codes, c)
		}
	}
	if history > 0 {
		return printHistory(ctx, db, codes, history, logger)
	}

	mcol := metrics.NewCollector()
	defer func() {
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer pcancel()
		if err := mcol.Push(pctx, cfg.PushgatewayURL, "gtfs_importer"); err != nil {
			logger.Warn("pushgateway push failed", "error", err)
		}
	}()

	nc, err := publisher.Connect(cfg.NATSURL, "gtfs-importer", mcol, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	kv, err := fingerprint.NewKVStore(ctx, nc, cfg.FingerprintBucket)
	if err != nil {
		return err
	}
	source := feed.Sources{
		feed.NewTransitland(cfg.TransitlandURL, cfg.TransitlandAPIKey, carriers.OnestopIDs()),
		feed.NewStaticSource(carriers.FeedURLs()),
	}

	drv := importer.NewDriver(
		db,
		source,
		fingerprint.NewDetector(kv, logger),
		feed.NewDownloader(cfg.DownloadDir, logger),
		publisher.NewNATSPublisher(nc, mcol, logger),
		mcol,
		logger,
		importer.Config{
			BatchSize:       cfg.BatchSize,
			DownloadTimeout: cfg.DownloadTimeout,
			BatchTimeout:    cfg.BatchTimeout,
			CutoverTimeout:  cfg.CutoverTimeout,
		},
	)

	start := time.Now()
	results, err := drv.RunAll(ctx, codes)
	for _, r := range results {
		logger.Info("carrier done",
			"carrier", r.Carrier, "outcome", string(r.Outcome),
			"fingerprint", r.Descriptor.Fingerprint, "rows", r.Rows, "run_id", r.RunID)
		if r.Outcome == importer.OutcomeSkipped {
			if last, lerr := db.LatestSuccessfulRun(ctx, r.Carrier); lerr == nil {
				logger.Info("serving previous import", "carrier", r.Carrier, "run_id", last.RunID, "started_at", last.StartedAt)
			}
		}
	}
	if ferr := nc.Flush(); ferr != nil {
		logger.Warn("nats flush failed", "error", ferr)
	}
	logging.LogOperation(logger, "import cycle", slog.Int("carriers", len(codes)), slog.Duration("duration", time.Since(start)))
	return err
}

func printHistory(ctx context.Context, db *store.DB, codes []string, n int, logger *slog.Logger) error {
	for _, code := range codes {
		runs, err := db.Runs(ctx, code, n)
		if err != nil {
			return err
		}
		for _, r := range runs {
			logger.Info("import run",
				"carrier", r.Carrier, "run_id", r.RunID, "outcome", r.Outcome, "state", r.State,
				"fingerprint", r.Fingerprint, "rows", r.RowsLoaded, "started_at", r.StartedAt,
				"finished_at", r.FinishedAt.Time, "error", r.Error.String)
		}
	}
	return nil
}
