package projector

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-live/internal/geo"
	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/logging"
	"gtfs-live/internal/store"
)

type memSchedule struct {
	trips  map[string]store.TripInfo
	shapes map[string][]geo.Point
	stops  map[string][]store.ScheduledStop

	snapshots int
}

func (m *memSchedule) Snapshot(_ context.Context, fn func(r ScheduleReader) error) error {
	m.snapshots++
	return fn(m)
}

func (m *memSchedule) Trip(_ context.Context, tripID string) (store.TripInfo, error) {
	t, ok := m.trips[tripID]
	if !ok {
		return store.TripInfo{}, fmt.Errorf("trip %s: %w", tripID, store.ErrNotFound)
	}
	return t, nil
}

func (m *memSchedule) ShapePoints(_ context.Context, carrier, shapeID string) ([]geo.Point, error) {
	return m.shapes[carrier+"/"+shapeID], nil
}

func (m *memSchedule) ScheduledStops(_ context.Context, tripID string) ([]store.ScheduledStop, error) {
	return m.stops[tripID], nil
}

func (m *memSchedule) TripStops(_ context.Context, tripID string) (gtfs.TripStops, error) {
	stops, ok := m.stops[tripID]
	if !ok {
		return gtfs.TripStops{}, fmt.Errorf("trip stops %s: %w", tripID, store.ErrNotFound)
	}
	ts := gtfs.TripStops{TripID: tripID}
	for _, s := range stops {
		ts.StopIDs = append(ts.StopIDs, s.StopID)
	}
	return ts, nil
}

// fivePointTrip is a tram trip along five shape points 100 m apart with
// stops at points 0, 3 and 4.
func fivePointTrip() *memSchedule {
	pts := line(5, 100)
	return &memSchedule{
		trips: map[string]store.TripInfo{
			"ZTM-T1": {
				Carrier: "ZTM", TripID: "ZTM-T1", RouteID: "ZTM-17",
				RouteType: int(gtfs.RouteTypeTram),
				ShapeID:   sql.NullString{String: "S1", Valid: true},
			},
			"ZTM-NOSHAPE": {Carrier: "ZTM", TripID: "ZTM-NOSHAPE", RouteType: int(gtfs.RouteTypeTram)},
		},
		shapes: map[string][]geo.Point{"ZTM/S1": pts},
		stops: map[string][]store.ScheduledStop{
			"ZTM-T1": {
				scheduled("A", 1, pts[0], "08:00:00"),
				scheduled("B", 2, pts[3], "08:01:00"),
				scheduled("C", 3, pts[4], "08:02:00"),
			},
		},
	}
}

func newTestService(s Schedule) *Service {
	// 36 km/h is 10 m/s.
	calcs := map[string]*Calculator{"ZTM": NewCalculator(Speeds{gtfs.RouteTypeTram: 36}, warsawSummer)}
	return NewService(s, calcs, nil, nil, logging.Discard())
}

func TestService_Project(t *testing.T) {
	svc := newTestService(fivePointTrip())
	pts := line(5, 100)
	r := Report{
		Carrier: "ZTM",
		TripID:  "ZTM-T1",
		Fix:     Fix{Point: pts[1], At: time.Date(2026, 10, 15, 8, 0, 0, 0, warsawSummer)},
	}

	p, err := svc.Project(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "A", p.PrevStopID)
	assert.Equal(t, "B", p.NextStopID)
	// 200 m at 10 m/s arrives 08:00:20 for an 08:01:00 stop.
	assert.Equal(t, -40*time.Second, p.Delay)
	require.Len(t, p.Stops, 2)
	assert.Equal(t, "B", p.Stops[0].StopID)
	assert.Equal(t, time.Date(2026, 10, 15, 8, 0, 20, 0, warsawSummer), p.Stops[0].Estimated)
	assert.Equal(t, "C", p.Stops[1].StopID)
	assert.Equal(t, time.Date(2026, 10, 15, 8, 1, 20, 0, warsawSummer), p.Stops[1].Estimated)

	again, err := svc.Project(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestService_ProjectErrors(t *testing.T) {
	svc := newTestService(fivePointTrip())
	fix := Fix{Point: origin, At: time.Date(2026, 10, 15, 8, 0, 0, 0, warsawSummer)}

	_, err := svc.Project(context.Background(), Report{Carrier: "ZTM", TripID: "ZTM-404", Fix: fix})
	assert.ErrorIs(t, err, ErrTripNotFound)

	_, err = svc.Project(context.Background(), Report{Carrier: "ZTM", TripID: "ZTM-NOSHAPE", Fix: fix})
	assert.ErrorIs(t, err, ErrEmptyShape)

	// Past the last stop nothing lies ahead.
	far := Fix{Point: geo.Offset(origin, 2_000, 0), At: fix.At}
	sched := fivePointTrip()
	sched.shapes["ZTM/S1"] = append(sched.shapes["ZTM/S1"], geo.Offset(origin, 2_000, 0))
	_, err = newTestService(sched).Project(context.Background(), Report{Carrier: "ZTM", TripID: "ZTM-T1", Fix: far})
	assert.ErrorIs(t, err, ErrNoNextStopFound)
}

func TestService_UnknownSpeedClass(t *testing.T) {
	sched := fivePointTrip()
	trip := sched.trips["ZTM-T1"]
	trip.RouteType = int(gtfs.RouteTypeBus)
	sched.trips["ZTM-T1"] = trip

	_, err := newTestService(sched).Project(context.Background(), Report{
		Carrier: "ZTM", TripID: "ZTM-T1",
		Fix: Fix{Point: origin, At: time.Date(2026, 10, 15, 8, 0, 0, 0, warsawSummer)},
	})
	assert.ErrorIs(t, err, ErrUnknownVehicleSpeedClass)
}

func TestService_FromStopTimeUpdates(t *testing.T) {
	svc := newTestService(fivePointTrip())
	at := time.Date(2026, 10, 15, 8, 3, 0, 0, warsawSummer)

	p, err := svc.FromStopTimeUpdates(context.Background(), "ZTM", "ZTM-T1", []StopTimeUpdate{
		{StopID: "B", At: at},
		{StopID: "C", At: at.Add(time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, "A", p.PrevStopID)
	assert.Equal(t, "B", p.NextStopID)
	assert.Equal(t, 2*time.Minute, p.Delay)
	require.Len(t, p.Stops, 2)
	assert.Equal(t, int64(3), p.Stops[1].StopSequence)
	assert.Equal(t, time.Date(2026, 10, 15, 8, 2, 0, 0, warsawSummer), p.Stops[1].Scheduled)

	p, err = svc.FromStopTimeUpdates(context.Background(), "ZTM", "ZTM-T1", []StopTimeUpdate{{StopID: "A", At: at}})
	require.NoError(t, err)
	assert.Empty(t, p.PrevStopID, "first stop has no predecessor")

	_, err = svc.FromStopTimeUpdates(context.Background(), "ZTM", "ZTM-T1", []StopTimeUpdate{{StopID: "Z", At: at}})
	assert.ErrorIs(t, err, ErrNoNextStopFound)

	_, err = svc.FromStopTimeUpdates(context.Background(), "ZTM", "ZTM-404", []StopTimeUpdate{{StopID: "A", At: at}})
	assert.ErrorIs(t, err, ErrTripNotFound)
}

func TestService_ReadsOneSnapshotPerProjection(t *testing.T) {
	sched := fivePointTrip()
	svc := newTestService(sched)
	at := time.Date(2026, 10, 15, 8, 0, 0, 0, warsawSummer)

	_, err := svc.Project(context.Background(), Report{Carrier: "ZTM", TripID: "ZTM-T1", Fix: Fix{Point: origin, At: at}})
	require.NoError(t, err)
	assert.Equal(t, 1, sched.snapshots)

	_, err = svc.FromStopTimeUpdates(context.Background(), "ZTM", "ZTM-T1", []StopTimeUpdate{{StopID: "B", At: at}})
	require.NoError(t, err)
	assert.Equal(t, 2, sched.snapshots)
}
