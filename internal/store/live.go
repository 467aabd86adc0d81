package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/geo"
	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/logging"
)

// TripInfo is a live trip joined with its route.
type TripInfo struct {
	Carrier     string         `db:"carrier_code"`
	TripID      string         `db:"trip_id"`
	RouteID     string         `db:"route_id"`
	RouteType   int            `db:"route_type"`
	ServiceID   string         `db:"service_id"`
	ShapeID     sql.NullString `db:"shape_id"`
	DirectionID sql.NullInt64  `db:"direction_id"`
	Headsign    sql.NullString `db:"trip_headsign"`
}

// ScheduledStop is one live stop time with its stop's coordinates. Name and
// Code resolve to the parent station when the stop is a boarding point.
type ScheduledStop struct {
	StopSequence  int64         `db:"stop_sequence"`
	StopID        string        `db:"stop_id"`
	Name          string        `db:"stop_name"`
	Code          string        `db:"stop_code"`
	Lat           float64       `db:"stop_lat"`
	Lon           float64       `db:"stop_lon"`
	ArrivalSecs   sql.NullInt64 `db:"arrival_secs"`
	DepartureSecs sql.NullInt64 `db:"departure_secs"`
}

func (s ScheduledStop) Point() geo.Point { return geo.Point{Lat: s.Lat, Lon: s.Lon} }

// Arrival returns the scheduled arrival, falling back to departure.
func (s ScheduledStop) Arrival() (gtfs.ServiceTime, bool) {
	switch {
	case s.ArrivalSecs.Valid:
		return gtfs.ServiceTimeFromSeconds(s.ArrivalSecs.Int64), true
	case s.DepartureSecs.Valid:
		return gtfs.ServiceTimeFromSeconds(s.DepartureSecs.Int64), true
	}
	return 0, false
}

// StopDisplay is how a stop is presented to riders.
type StopDisplay struct {
	StopID string `db:"stop_id"`
	Name   string `db:"stop_name"`
	Code   string `db:"stop_code"`
}

// Reader runs live reads, either straight on the pool or inside one
// snapshot.
type Reader struct {
	db *DB
	q  sqlx.QueryerContext
}

func (db *DB) reader() Reader { return Reader{db: db, q: db.x} }

// Snapshot runs fn against one generation of the live tables. A cutover
// waits for running snapshots; snapshots started after it see only its
// result.
func (db *DB) Snapshot(ctx context.Context, fn func(r Reader) error) error {
	tx, err := db.dialect.BeginSnapshot(ctx, db.x)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx, db.loggerFor(ctx), "snapshot")
	if err := fn(Reader{db: db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) Trip(ctx context.Context, tripID string) (TripInfo, error) {
	return db.reader().Trip(ctx, tripID)
}

func (db *DB) ShapePoints(ctx context.Context, carrier, shapeID string) ([]geo.Point, error) {
	return db.reader().ShapePoints(ctx, carrier, shapeID)
}

func (db *DB) ScheduledStops(ctx context.Context, tripID string) ([]ScheduledStop, error) {
	return db.reader().ScheduledStops(ctx, tripID)
}

func (db *DB) TripStops(ctx context.Context, tripID string) (gtfs.TripStops, error) {
	return db.reader().TripStops(ctx, tripID)
}

func (db *DB) StopDisplay(ctx context.Context, carrier, stopID string) (StopDisplay, error) {
	return db.reader().StopDisplay(ctx, carrier, stopID)
}

// Trip reads a live trip and its route type.
func (r Reader) Trip(ctx context.Context, tripID string) (TripInfo, error) {
	var t TripInfo
	q := r.db.rebind(`
SELECT t.carrier_code, t.trip_id, t.route_id, r.route_type, t.service_id,
       t.shape_id, t.direction_id, t.trip_headsign
FROM trips t
JOIN routes r ON r.carrier_code = t.carrier_code AND r.route_id = t.route_id
WHERE t.trip_id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &t, q, tripID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TripInfo{}, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
		}
		return TripInfo{}, fmt.Errorf("query trip: %w", err)
	}
	return t, nil
}

// ShapePoints returns a live shape in sequence order.
func (r Reader) ShapePoints(ctx context.Context, carrier, shapeID string) ([]geo.Point, error) {
	var pts []struct {
		Lat float64 `db:"shape_pt_lat"`
		Lon float64 `db:"shape_pt_lon"`
	}
	q := r.db.rebind(`
SELECT shape_pt_lat, shape_pt_lon
FROM shape_points
WHERE carrier_code = ? AND shape_id = ?
ORDER BY shape_pt_sequence`)
	if err := sqlx.SelectContext(ctx, r.q, &pts, q, carrier, shapeID); err != nil {
		return nil, fmt.Errorf("query shape points: %w", err)
	}
	out := make([]geo.Point, len(pts))
	for i, p := range pts {
		out[i] = geo.Point{Lat: p.Lat, Lon: p.Lon}
	}
	return out, nil
}

// ScheduledStops returns the live stop times of a trip in stop_sequence
// order.
func (r Reader) ScheduledStops(ctx context.Context, tripID string) ([]ScheduledStop, error) {
	var stops []ScheduledStop
	q := r.db.rebind(`
SELECT st.stop_sequence, st.stop_id,
       COALESCE(p.stop_name, s.stop_name, '') AS stop_name,
       COALESCE(p.stop_code, s.stop_code, '') AS stop_code,
       s.stop_lat, s.stop_lon, st.arrival_secs, st.departure_secs
FROM stop_times st
JOIN stops s ON s.carrier_code = st.carrier_code AND s.stop_id = st.stop_id
LEFT JOIN stops p ON p.carrier_code = s.carrier_code AND p.stop_id = s.parent_station
WHERE st.trip_id = ?
ORDER BY st.stop_sequence`)
	if err := sqlx.SelectContext(ctx, r.q, &stops, q, tripID); err != nil {
		return nil, fmt.Errorf("query stop times: %w", err)
	}
	return stops, nil
}

// TripStops reads the derived ordered stop list of a live trip.
func (r Reader) TripStops(ctx context.Context, tripID string) (gtfs.TripStops, error) {
	var row struct {
		Carrier     string        `db:"carrier_code"`
		TripID      string        `db:"trip_id"`
		DirectionID sql.NullInt64 `db:"direction_id"`
		RouteID     string        `db:"route_id"`
		StopIDs     []byte        `db:"stop_ids"`
	}
	q := r.db.rebind(`SELECT carrier_code, trip_id, direction_id, route_id, stop_ids FROM trip_stops WHERE trip_id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &row, q, tripID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gtfs.TripStops{}, fmt.Errorf("trip stops %s: %w", tripID, ErrNotFound)
		}
		return gtfs.TripStops{}, fmt.Errorf("query trip stops: %w", err)
	}
	ts := gtfs.TripStops{Carrier: row.Carrier, TripID: row.TripID, DirectionID: row.DirectionID, RouteID: row.RouteID}
	if err := json.Unmarshal(row.StopIDs, &ts.StopIDs); err != nil {
		return gtfs.TripStops{}, fmt.Errorf("decode stop ids of %s: %w", tripID, err)
	}
	return ts, nil
}

// StopDisplay resolves a stop to its parent station's name and code when it
// has one.
func (r Reader) StopDisplay(ctx context.Context, carrier, stopID string) (StopDisplay, error) {
	var d StopDisplay
	q := r.db.rebind(`
SELECT s.stop_id,
       COALESCE(p.stop_name, s.stop_name, '') AS stop_name,
       COALESCE(p.stop_code, s.stop_code, '') AS stop_code
FROM stops s
LEFT JOIN stops p ON p.carrier_code = s.carrier_code AND p.stop_id = s.parent_station
WHERE s.carrier_code = ? AND s.stop_id = ?`)
	if err := sqlx.GetContext(ctx, r.q, &d, q, carrier, stopID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StopDisplay{}, fmt.Errorf("stop %s/%s: %w", carrier, stopID, ErrNotFound)
		}
		return StopDisplay{}, fmt.Errorf("query stop: %w", err)
	}
	return d, nil
}
