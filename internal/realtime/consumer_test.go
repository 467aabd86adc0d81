package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-live/internal/logging"
	"gtfs-live/internal/projector"
	"gtfs-live/internal/publisher"
	"gtfs-live/internal/store"
)

type fakeProjector struct {
	mu      sync.Mutex
	reports []projector.Report
	updates map[string][]projector.StopTimeUpdate
	err     error
}

func (f *fakeProjector) Project(_ context.Context, r projector.Report) (projector.Projection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	if f.err != nil {
		return projector.Projection{}, f.err
	}
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	return projector.Projection{
		Carrier: r.Carrier,
		TripID:  r.TripID,
		Delay:   90 * time.Second,
		Stops: []projector.ProjectedStopTime{{
			StopID:       "B",
			StopSequence: 2,
			Scheduled:    day.Add(8 * time.Hour),
			Estimated:    day.Add(8*time.Hour + 90*time.Second),
		}},
	}, nil
}

func (f *fakeProjector) FromStopTimeUpdates(_ context.Context, carrier, tripID string, u []projector.StopTimeUpdate) (projector.Projection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = map[string][]projector.StopTimeUpdate{}
	}
	f.updates[tripID] = u
	p := projector.Projection{Carrier: carrier, TripID: tripID}
	for _, s := range u {
		p.Stops = append(p.Stops, projector.ProjectedStopTime{StopID: s.StopID, Estimated: s.At.UTC()})
	}
	return p, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publisher.ETAMessage
}

func (f *fakePublisher) PublishETA(msg publisher.ETAMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

type namer map[string]string

func (n namer) StopDisplay(_ context.Context, carrier, stopID string) (store.StopDisplay, error) {
	name, ok := n[stopID]
	if !ok {
		return store.StopDisplay{}, store.ErrNotFound
	}
	return store.StopDisplay{StopID: stopID, Name: name}, nil
}

func TestConsumer_HandleJSONPosition(t *testing.T) {
	proj := &fakeProjector{}
	pub := &fakePublisher{}
	c := NewConsumer(proj, pub, namer{"B": "Centrum"}, 2, time.Second, nil, logging.Discard())

	err := c.Handle(context.Background(), "vehicles.ZTM.json", []byte(`{"tripId":"T1","lat":52.2,"lon":21.0,"timestamp":1790000000}`))
	require.NoError(t, err)

	require.Len(t, proj.reports, 1)
	assert.Equal(t, "ZTM-T1", proj.reports[0].TripID)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "ZTM", msg.Carrier)
	assert.Equal(t, int64(90), msg.DelaySeconds)
	require.Len(t, msg.Stops, 1)
	assert.Equal(t, "Centrum", msg.Stops[0].Name)
	assert.Equal(t, "08:00:00", msg.Stops[0].Scheduled)
	assert.Equal(t, "08:01:30", msg.Stops[0].Estimated)
}

func TestConsumer_HandleStopTimeUpdates(t *testing.T) {
	proj := &fakeProjector{}
	pub := &fakePublisher{}
	c := NewConsumer(proj, pub, nil, 1, 0, nil, logging.Discard())

	err := c.Handle(context.Background(), "vehicles.WKD.json", []byte(`{"tripId":"R1","stopTimeUpdates":[{"stopId":"A","time":1790000000}]}`))
	require.NoError(t, err)
	assert.Contains(t, proj.updates, "WKD-R1")
	require.Len(t, pub.msgs, 1)
	assert.Empty(t, pub.msgs[0].Stops[0].Scheduled)
}

func TestConsumer_ProjectionErrorPublishesNothing(t *testing.T) {
	proj := &fakeProjector{err: fmt.Errorf("trip X: %w", projector.ErrNoNextStopFound)}
	pub := &fakePublisher{}
	c := NewConsumer(proj, pub, nil, 1, 0, nil, logging.Discard())

	err := c.Handle(context.Background(), "vehicles.ZTM.json", []byte(`{"tripId":"X","lat":1,"lon":1}`))
	require.NoError(t, err, "per-update failures are logged, not returned")
	assert.Empty(t, pub.msgs)
}

func TestConsumer_BadMessages(t *testing.T) {
	c := NewConsumer(&fakeProjector{}, &fakePublisher{}, nil, 1, 0, nil, logging.Discard())
	assert.ErrorIs(t, c.Handle(context.Background(), "vehicles.ZTM.csv", nil), ErrBadReport)
	assert.ErrorIs(t, c.Handle(context.Background(), "vehicles.ZTM.json", []byte(`nope`)), ErrBadReport)
}

func TestConsumer_RunOverNATS(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	pub := &fakePublisher{}
	c := NewConsumer(&fakeProjector{}, pub, nil, 4, time.Second, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, nc) }()

	body, err := json.Marshal(Report{TripID: "T1", Lat: ptr(52.2), Lon: ptr(21.0)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		require.NoError(t, nc.Publish("vehicles.ZTM.json", body))
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.msgs) > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func ptr(f float64) *float64 { return &f }
