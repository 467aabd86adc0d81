package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Collector owns a private registry with the importer and projector
// metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	ImportRuns      *prometheus.CounterVec   // carrier, outcome
	ImportState     *prometheus.GaugeVec     // carrier; numeric state
	StateDuration   *prometheus.HistogramVec // state
	RowsStaged      *prometheus.CounterVec   // carrier, entity
	LastSuccess     *prometheus.GaugeVec     // carrier; unix seconds
	CutoverDuration prometheus.Histogram

	ReportsReceived    *prometheus.CounterVec // format
	Projections        *prometheus.CounterVec // result
	ProjectionDuration prometheus.Histogram
	LastDelay          *prometheus.GaugeVec // carrier; seconds

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ImportRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_import_runs_total",
			Help: "Import runs by carrier and outcome.",
		}, []string{"carrier", "outcome"}),
		ImportState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gtfs_import_state",
			Help: "Current pipeline state per carrier (0 idle .. 6 failed).",
		}, []string{"carrier"}),
		StateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gtfs_import_state_duration_seconds",
			Help:    "Time spent in each pipeline state.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
		}, []string{"state"}),
		RowsStaged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_rows_staged_total",
			Help: "Rows written to staging by carrier and entity type.",
		}, []string{"carrier", "entity"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gtfs_import_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cutover per carrier.",
		}, []string{"carrier"}),
		CutoverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gtfs_cutover_duration_seconds",
			Help:    "Duration of the table swap transaction.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ReportsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_reports_received_total",
			Help: "Vehicle reports received by wire format.",
		}, []string{"format"}),
		Projections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_projections_total",
			Help: "Projection attempts by result.",
		}, []string{"result"}),
		ProjectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "realtime_projection_duration_seconds",
			Help:    "Duration of one projection including live reads.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		LastDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "realtime_last_delay_seconds",
			Help: "Most recent projected delay per carrier.",
		}, []string{"carrier"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nats_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.ImportRuns, c.ImportState, c.StateDuration, c.RowsStaged, c.LastSuccess, c.CutoverDuration,
		c.ReportsReceived, c.Projections, c.ProjectionDuration, c.LastDelay,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}

// Push sends the registry to a Pushgateway. Used by the one-shot importer.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(c.reg).PushContext(ctx)
}

// State records a pipeline state change.
func (c *Collector) State(carrier string, state int, since time.Duration, prev string) {
	if c == nil {
		return
	}
	c.ImportState.WithLabelValues(carrier).Set(float64(state))
	if prev != "" {
		c.StateDuration.WithLabelValues(prev).Observe(since.Seconds())
	}
}

func (c *Collector) RunFinished(carrier, outcome string, at time.Time) {
	if c == nil {
		return
	}
	c.ImportRuns.WithLabelValues(carrier, outcome).Inc()
	if outcome == "succeeded" {
		c.LastSuccess.WithLabelValues(carrier).Set(float64(at.Unix()))
	}
}

func (c *Collector) Staged(carrier, entity string, n int) {
	if c == nil {
		return
	}
	c.RowsStaged.WithLabelValues(carrier, entity).Add(float64(n))
}

func (c *Collector) CutoverObserve(d time.Duration) {
	if c == nil {
		return
	}
	c.CutoverDuration.Observe(d.Seconds())
}

func (c *Collector) ReportReceived(format string) {
	if c == nil {
		return
	}
	c.ReportsReceived.WithLabelValues(format).Inc()
}

func (c *Collector) Projected(carrier, result string, d time.Duration, delay time.Duration) {
	if c == nil {
		return
	}
	c.Projections.WithLabelValues(result).Inc()
	c.ProjectionDuration.Observe(d.Seconds())
	if result == "ok" {
		c.LastDelay.WithLabelValues(carrier).Set(delay.Seconds())
	}
}

// The methods below satisfy publisher.PublisherMetrics.

func (c *Collector) NATSPublishedInc() {
	if c != nil {
		c.NATSPublished.Inc()
	}
}

func (c *Collector) NATSPublishErrInc() {
	if c != nil {
		c.NATSPublishErrs.Inc()
	}
}

func (c *Collector) PublishObserve(d time.Duration) {
	if c != nil {
		c.PublishDuration.Observe(d.Seconds())
	}
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
