// Package projector places a vehicle on its trip's shape and turns the
// position into estimated arrival times at the stops ahead.
package projector

import (
	"errors"

	"gtfs-live/internal/geo"
)

// SnapToleranceMeters is how close a stop must lie to a shape point to be
// matched to it.
const SnapToleranceMeters = 25.0

var (
	ErrEmptyShape      = errors.New("shape has no points")
	ErrNoNextStopFound = errors.New("no stop within snap tolerance of the shape ahead")
)

// StopMatch is the next stop found on a shape.
type StopMatch struct {
	StopIndex  int // index into the stops passed to NextStop
	ShapeIndex int // index of the shape point the stop snapped to
	Distance   float64
}

// NearestPoint returns the index of the shape point closest to fix. Exact
// ties resolve to the lowest index.
func NearestPoint(fix geo.Point, points []geo.Point) (int, error) {
	if len(points) == 0 {
		return 0, ErrEmptyShape
	}
	best, bestDist := 0, geo.Haversine(fix, points[0])
	for i := 1; i < len(points); i++ {
		if d := geo.Haversine(fix, points[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, nil
}

// NextStop walks the shape forward from index from and, at each point, tests
// the stops in order. The first stop within SnapToleranceMeters wins.
func NextStop(points []geo.Point, from int, stops []geo.Point) (StopMatch, error) {
	if len(points) == 0 {
		return StopMatch{}, ErrEmptyShape
	}
	if from < 0 {
		from = 0
	}
	for i := from; i < len(points); i++ {
		for j, s := range stops {
			if d := geo.Haversine(points[i], s); d <= SnapToleranceMeters {
				return StopMatch{StopIndex: j, ShapeIndex: i, Distance: d}, nil
			}
		}
	}
	return StopMatch{}, ErrNoNextStopFound
}
