package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gtfs-live/internal/config"
	"gtfs-live/internal/logging"
	"gtfs-live/internal/metrics"
	"gtfs-live/internal/projector"
	"gtfs-live/internal/publisher"
	"gtfs-live/internal/realtime"
	"gtfs-live/internal/store"
)

func main() {
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

	if err := run(ctx, cfg, logger); err != nil {
		logging.LogError(logger, "projector stopped", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	carriers, err := config.LoadCarriers(cfg.CarriersFile)
	if err != nil {
		return err
	}
	calcs := make(map[string]*projector.Calculator, len(carriers.Carriers))
	for _, c := range carriers.Carriers {
		loc, err := c.Location()
		if err != nil {
			return err
		}
		calcs[c.Code] = projector.NewCalculator(c.SpeedTable(), loc)
	}

	dsn := cfg.DatabaseURL
	if cfg.DatabaseName != "" {
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

	mcol := metrics.NewCollector()
	nc, err := publisher.Connect(cfg.NATSURL, "gtfs-projector", mcol, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	// Started last: from here on the errgroup owns its shutdown.
	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		g.Go(func() error {
			<-gctx.Done()
			// Shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	svc := projector.NewService(projector.LiveSchedule(db), calcs, nil, mcol, logger)
	consumer := realtime.NewConsumer(svc, publisher.NewNATSPublisher(nc, mcol, logger), db, cfg.Workers, cfg.ProjectionTimeout, mcol, logger)
	g.Go(func() error { return consumer.Run(gctx, nc) })

	if err := g.Wait(); err != nil {
		return err
	}
	if err := nc.Drain(); err != nil {
		logger.Warn("nats drain failed", "error", err)
	}
	return nil
}
