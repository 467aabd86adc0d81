package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gtfs-live/internal/geo"
	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/metrics"
	"gtfs-live/internal/store"
)

// ScheduleReader reads the live dataset.
type ScheduleReader interface {
	Trip(ctx context.Context, tripID string) (store.TripInfo, error)
	ShapePoints(ctx context.Context, carrier, shapeID string) ([]geo.Point, error)
	ScheduledStops(ctx context.Context, tripID string) ([]store.ScheduledStop, error)
	TripStops(ctx context.Context, tripID string) (gtfs.TripStops, error)
}

// Schedule hands out readers that see a single generation of the dataset,
// so a projection never mixes rows from both sides of a cutover.
type Schedule interface {
	Snapshot(ctx context.Context, fn func(r ScheduleReader) error) error
}

// LiveSchedule reads from the store's live tables.
func LiveSchedule(db *store.DB) Schedule { return liveSchedule{db: db} }

type liveSchedule struct {
	db *store.DB
}

func (l liveSchedule) Snapshot(ctx context.Context, fn func(r ScheduleReader) error) error {
	return l.db.Snapshot(ctx, func(r store.Reader) error { return fn(r) })
}

// Report is a normalised vehicle position for one trip. TripID is carrier
// namespaced.
type Report struct {
	Carrier string
	TripID  string
	Fix     Fix
}

// StopTimeUpdate is a live arrival published by the carrier itself.
type StopTimeUpdate struct {
	StopID string
	At     time.Time
}

// Projection is the live view of one trip.
type Projection struct {
	Carrier    string
	TripID     string
	Delay      time.Duration
	PrevStopID string
	NextStopID string
	Stops      []ProjectedStopTime
}

// Service projects reports against the live schedule. Projections share no
// mutable state and may run concurrently.
type Service struct {
	schedule    Schedule
	calculators map[string]*Calculator
	fallback    *Calculator
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// NewService builds a service. calculators is keyed by carrier code; carriers
// without an entry use fallback.
func NewService(schedule Schedule, calculators map[string]*Calculator, fallback *Calculator, m *metrics.Collector, logger *slog.Logger) *Service {
	if fallback == nil {
		fallback = NewCalculator(nil, nil)
	}
	return &Service{
		schedule:    schedule,
		calculators: calculators,
		fallback:    fallback,
		metrics:     m,
		logger:      logger,
	}
}

func (s *Service) calculator(carrier string) *Calculator {
	if c, ok := s.calculators[carrier]; ok {
		return c
	}
	return s.fallback
}

// Project finds the vehicle's next stop on the trip's shape and shifts the
// rest of the trip by the estimated delay.
func (s *Service) Project(ctx context.Context, r Report) (Projection, error) {
	start := time.Now()
	var p Projection
	err := s.schedule.Snapshot(ctx, func(rd ScheduleReader) error {
		var err error
		p, err = s.project(ctx, rd, r)
		return err
	})
	s.metrics.Projected(r.Carrier, resultLabel(err), time.Since(start), p.Delay)
	return p, err
}

func (s *Service) project(ctx context.Context, rd ScheduleReader, r Report) (Projection, error) {
	trip, err := rd.Trip(ctx, r.TripID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Projection{}, fmt.Errorf("%w: %s", ErrTripNotFound, r.TripID)
		}
		return Projection{}, err
	}
	if !trip.ShapeID.Valid {
		return Projection{}, fmt.Errorf("trip %s: %w", r.TripID, ErrEmptyShape)
	}

	points, err := rd.ShapePoints(ctx, trip.Carrier, trip.ShapeID.String)
	if err != nil {
		return Projection{}, err
	}
	nearest, err := NearestPoint(r.Fix.Point, points)
	if err != nil {
		return Projection{}, fmt.Errorf("trip %s shape %s: %w", r.TripID, trip.ShapeID.String, err)
	}

	stops, err := rd.ScheduledStops(ctx, r.TripID)
	if err != nil {
		return Projection{}, err
	}
	if len(stops) == 0 {
		return Projection{}, fmt.Errorf("%w: %s has no stop times", ErrTripNotFound, r.TripID)
	}
	coords := make([]geo.Point, len(stops))
	for i, st := range stops {
		coords[i] = st.Point()
	}
	match, err := NextStop(points, nearest, coords)
	if err != nil {
		return Projection{}, fmt.Errorf("trip %s: %w", r.TripID, err)
	}

	next := stops[match.StopIndex]
	delta, err := s.calculator(trip.Carrier).EstimateDelta(gtfs.RouteType(trip.RouteType), r.Fix, next)
	if err != nil {
		return Projection{}, fmt.Errorf("trip %s: %w", r.TripID, err)
	}

	p := Projection{
		Carrier:    trip.Carrier,
		TripID:     r.TripID,
		Delay:      delta.Offset,
		NextStopID: next.StopID,
		Stops:      ApplyDelta(stops[match.StopIndex:], delta),
	}
	if match.StopIndex > 0 {
		p.PrevStopID = stops[match.StopIndex-1].StopID
	}
	s.logger.Debug("projected trip",
		"carrier", p.Carrier, "trip_id", p.TripID,
		"nearest_point", nearest, "next_stop", p.NextStopID, "delay", p.Delay)
	return p, nil
}

// FromStopTimeUpdates builds a projection from arrivals the carrier already
// estimated. The vehicle is placed between the first updated stop and the
// stop before it on the trip.
func (s *Service) FromStopTimeUpdates(ctx context.Context, carrier, tripID string, updates []StopTimeUpdate) (Projection, error) {
	start := time.Now()
	var p Projection
	err := s.schedule.Snapshot(ctx, func(rd ScheduleReader) error {
		var err error
		p, err = s.fromUpdates(ctx, rd, carrier, tripID, updates)
		return err
	})
	s.metrics.Projected(carrier, resultLabel(err), time.Since(start), p.Delay)
	return p, err
}

func (s *Service) fromUpdates(ctx context.Context, rd ScheduleReader, carrier, tripID string, updates []StopTimeUpdate) (Projection, error) {
	if len(updates) == 0 {
		return Projection{}, fmt.Errorf("trip %s: %w", tripID, ErrNoNextStopFound)
	}
	ts, err := rd.TripStops(ctx, tripID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Projection{}, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
		}
		return Projection{}, err
	}

	next := updates[0].StopID
	idx := -1
	for i, id := range ts.StopIDs {
		if id == next {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Projection{}, fmt.Errorf("trip %s: stop %s not on trip: %w", tripID, next, ErrNoNextStopFound)
	}

	p := Projection{Carrier: carrier, TripID: tripID, NextStopID: next}
	if idx > 0 {
		p.PrevStopID = ts.StopIDs[idx-1]
	}

	stops, err := rd.ScheduledStops(ctx, tripID)
	if err != nil {
		return Projection{}, err
	}
	scheduled := make(map[string]store.ScheduledStop, len(stops))
	for _, st := range stops {
		if _, dup := scheduled[st.StopID]; !dup {
			scheduled[st.StopID] = st
		}
	}

	calc := s.calculator(carrier)
	p.Stops = make([]ProjectedStopTime, 0, len(updates))
	for i, u := range updates {
		pst := ProjectedStopTime{StopID: u.StopID, Estimated: u.At.In(calc.Location())}
		if st, ok := scheduled[u.StopID]; ok {
			pst.StopSequence = st.StopSequence
			if t, ok := st.Arrival(); ok {
				_, pst.Scheduled = calc.Resolve(t, u.At)
				if i == 0 {
					p.Delay = u.At.Sub(pst.Scheduled).Round(time.Second)
				}
			}
		}
		p.Stops = append(p.Stops, pst)
	}
	return p, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTripNotFound):
		return "trip_not_found"
	case errors.Is(err, ErrUnknownVehicleSpeedClass):
		return "unknown_speed_class"
	case errors.Is(err, ErrNoNextStopFound):
		return "no_next_stop"
	case errors.Is(err, ErrEmptyShape):
		return "empty_shape"
	}
	return "error"
}
