package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"gtfs-live/internal/metrics"
	"gtfs-live/internal/projector"
	"gtfs-live/internal/publisher"
	"gtfs-live/internal/store"
)

// Projector is the projection service the consumer feeds.
type Projector interface {
	Project(ctx context.Context, r projector.Report) (projector.Projection, error)
	FromStopTimeUpdates(ctx context.Context, carrier, tripID string, updates []projector.StopTimeUpdate) (projector.Projection, error)
}

type ETAPublisher interface {
	PublishETA(msg publisher.ETAMessage) error
}

// StopNamer resolves display names for published stops. Optional.
type StopNamer interface {
	StopDisplay(ctx context.Context, carrier, stopID string) (store.StopDisplay, error)
}

// Consumer subscribes to vehicle reports and publishes projected ETAs. A
// bounded pool of workers handles messages; a full pool stops the intake.
type Consumer struct {
	proj    Projector
	pub     ETAPublisher
	names   StopNamer
	metrics *metrics.Collector
	logger  *slog.Logger
	workers int
	timeout time.Duration
	now     func() time.Time
}

func NewConsumer(proj Projector, pub ETAPublisher, names StopNamer, workers int, timeout time.Duration, m *metrics.Collector, logger *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		proj:    proj,
		pub:     pub,
		names:   names,
		metrics: m,
		logger:  logger,
		workers: workers,
		timeout: timeout,
		now:     time.Now,
	}
}

// Run consumes vehicles.*.* until ctx is done, then drains in-flight work.
func (c *Consumer) Run(ctx context.Context, nc *nats.Conn) error {
	msgs := make(chan *nats.Msg, c.workers*4)
	sub, err := nc.ChanSubscribe(SubjectRoot+".*.*", msgs)
	if err != nil {
		return fmt.Errorf("subscribe reports: %w", err)
	}
	c.logger.Info("consuming vehicle reports", "subject", sub.Subject, "workers", c.workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for {
		select {
		case <-gctx.Done():
			if err := sub.Unsubscribe(); err != nil {
				c.logger.Warn("unsubscribe failed", "error", err)
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return nil
		case msg := <-msgs:
			if msg == nil {
				continue
			}
			g.Go(func() error {
				if err := c.Handle(gctx, msg.Subject, msg.Data); err != nil {
					c.logger.Warn("vehicle report dropped", "subject", msg.Subject, "error", err)
				}
				return nil
			})
		}
	}
}

// Handle decodes one message and publishes an ETA for every projectable
// update in it. Per-update failures are logged; the returned error covers
// undecodable messages only.
func (c *Consumer) Handle(ctx context.Context, subject string, data []byte) error {
	carrier, format, err := ParseSubject(subject)
	if err != nil {
		return err
	}
	c.metrics.ReportReceived(format)

	var updates []Update
	switch format {
	case FormatJSON:
		u, err := DecodeJSON(carrier, data, c.now())
		if err != nil {
			return err
		}
		updates = []Update{u}
	case FormatGTFSRT:
		if updates, err = DecodeFeed(carrier, data, c.now()); err != nil {
			return err
		}
	}

	for _, u := range updates {
		if err := c.project(ctx, u); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, context.Canceled) {
				level = slog.LevelDebug
			}
			c.logger.Log(ctx, level, "projection failed", "carrier", u.Carrier, "trip_id", u.TripID, "error", err)
		}
	}
	return nil
}

func (c *Consumer) project(ctx context.Context, u Update) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var (
		p   projector.Projection
		err error
	)
	if u.Fix != nil {
		p, err = c.proj.Project(ctx, projector.Report{Carrier: u.Carrier, TripID: u.TripID, Fix: *u.Fix})
	} else {
		p, err = c.proj.FromStopTimeUpdates(ctx, u.Carrier, u.TripID, u.StopTimeUpdates)
	}
	if err != nil {
		return err
	}
	return c.pub.PublishETA(c.message(ctx, p))
}

func (c *Consumer) message(ctx context.Context, p projector.Projection) publisher.ETAMessage {
	msg := publisher.ETAMessage{
		Carrier:      p.Carrier,
		TripID:       p.TripID,
		DelaySeconds: int64(p.Delay / time.Second),
		Timestamp:    c.now().UTC(),
		Stops:        make([]publisher.ETAStop, 0, len(p.Stops)),
	}
	for _, s := range p.Stops {
		stop := publisher.ETAStop{
			StopID:    s.StopID,
			Sequence:  s.StopSequence,
			Estimated: s.Estimated.Format(time.TimeOnly),
			At:        s.Estimated.UTC(),
		}
		if !s.Scheduled.IsZero() {
			stop.Scheduled = s.Scheduled.Format(time.TimeOnly)
		}
		if c.names != nil {
			if d, err := c.names.StopDisplay(ctx, p.Carrier, s.StopID); err == nil {
				stop.Name = d.Name
			}
		}
		msg.Stops = append(msg.Stops, stop)
	}
	return msg
}
