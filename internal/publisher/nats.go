package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject roots.
const (
	ImportsSubject = "gtfs.imports"
	ETASubject     = "eta"
)

type NATSPublisher struct {
	nc      *nats.Conn
	logger  *slog.Logger
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect dials NATS with handlers that keep the connection gauge current.
func Connect(url, name string, m PublisherMetrics, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

func NewNATSPublisher(nc *nats.Conn, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, logger: logger, metrics: m}
}

// Outcome is the end-of-run signal for services that depend on fresh data.
type Outcome struct {
	RunID       string    `json:"runId"`
	Carrier     string    `json:"carrier"`
	Outcome     string    `json:"outcome"`
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	RowsLoaded  int64     `json:"rowsLoaded"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// ETAStop is one projected stop time.
type ETAStop struct {
	StopID    string    `json:"stopId"`
	Name      string    `json:"name,omitempty"`
	Sequence  int64     `json:"sequence"`
	Scheduled string    `json:"scheduled"`
	Estimated string    `json:"estimated"`
	At        time.Time `json:"at"`
}

// ETAMessage carries the projected remaining stop times of one trip.
type ETAMessage struct {
	Carrier      string    `json:"carrier"`
	TripID       string    `json:"tripId"`
	DelaySeconds int64     `json:"delaySeconds"`
	Timestamp    time.Time `json:"timestamp"`
	Stops        []ETAStop `json:"stops"`
}

// PublishOutcome sends o on gtfs.imports.<carrier>.
func (p *NATSPublisher) PublishOutcome(o Outcome) error {
	return p.publish(fmt.Sprintf("%s.%s", ImportsSubject, subjectToken(o.Carrier)), o)
}

// PublishETA sends msg on eta.<carrier>.<trip>.
func (p *NATSPublisher) PublishETA(msg ETAMessage) error {
	return p.publish(fmt.Sprintf("%s.%s.%s", ETASubject, subjectToken(msg.Carrier), subjectToken(msg.TripID)), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.logger.Debug("nats publish", "subject", subject)
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
