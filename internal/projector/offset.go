package projector

import (
	"errors"
	"fmt"
	"time"

	"gtfs-live/internal/geo"
	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/store"
)

var (
	ErrTripNotFound             = errors.New("trip not found")
	ErrUnknownVehicleSpeedClass = errors.New("no average speed for route type")
	ErrNoScheduledTime          = errors.New("stop has no scheduled time")
)

// Speeds maps a route type to its average speed in km/h.
type Speeds map[gtfs.RouteType]float64

// DefaultSpeeds are used for carriers without their own table.
var DefaultSpeeds = Speeds{
	gtfs.RouteTypeTram:  17,
	gtfs.RouteTypeMetro: 33,
	gtfs.RouteTypeRail:  39,
	gtfs.RouteTypeBus:   25,
}

// Fix is a vehicle position at an instant.
type Fix struct {
	Point geo.Point
	At    time.Time
}

// Delta is the signed lateness of a vehicle, anchored to the service day the
// schedule was resolved on.
type Delta struct {
	Offset     time.Duration
	ServiceDay time.Time
}

// ProjectedStopTime is a scheduled stop with its live estimate.
type ProjectedStopTime struct {
	StopID       string
	StopSequence int64
	Scheduled    time.Time
	Estimated    time.Time
}

// Calculator converts a position into a schedule delta. It holds no mutable
// state and is safe for concurrent use.
type Calculator struct {
	speeds Speeds
	loc    *time.Location
}

// NewCalculator returns a calculator for a carrier whose schedule is local
// to loc. A nil speeds table means DefaultSpeeds.
func NewCalculator(speeds Speeds, loc *time.Location) *Calculator {
	if speeds == nil {
		speeds = DefaultSpeeds
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{speeds: speeds, loc: loc}
}

// Location is the time zone service days are computed in.
func (c *Calculator) Location() *time.Location { return c.loc }

// EstimateDelta estimates when the vehicle reaches next at its route type's
// average speed and compares that with the scheduled arrival.
func (c *Calculator) EstimateDelta(routeType gtfs.RouteType, fix Fix, next store.ScheduledStop) (Delta, error) {
	kmh, ok := c.speeds[routeType]
	if !ok || kmh <= 0 {
		return Delta{}, fmt.Errorf("%w: %s (%d)", ErrUnknownVehicleSpeedClass, routeType, int(routeType))
	}
	sched, ok := next.Arrival()
	if !ok {
		return Delta{}, fmt.Errorf("%w: %s", ErrNoScheduledTime, next.StopID)
	}

	meters := geo.Haversine(fix.Point, next.Point())
	travel := time.Duration(meters / (kmh / 3.6) * float64(time.Second))
	estimate := fix.At.Add(travel)

	day, scheduled := c.Resolve(sched, estimate)
	return Delta{
		Offset:     estimate.Sub(scheduled).Round(time.Second),
		ServiceDay: day,
	}, nil
}

// Resolve places a service time on the service day that brings it closest
// to near, trying the day before, the same day and the day after. This keeps
// 25:10:00 next to 01:10 of the following calendar day.
func (c *Calculator) Resolve(t gtfs.ServiceTime, near time.Time) (day, at time.Time) {
	local := near.In(c.loc)
	var best time.Duration = -1
	for _, offset := range []int{-1, 0, 1} {
		date := local.AddDate(0, 0, offset)
		d, candidate := gtfs.ServiceDay(date), t.On(date)
		diff := candidate.Sub(near)
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < best {
			best, day, at = diff, d, candidate
		}
	}
	return day, at
}

// ApplyDelta shifts every stop by the same offset. Stops without any
// scheduled time are left out.
func ApplyDelta(stops []store.ScheduledStop, d Delta) []ProjectedStopTime {
	out := make([]ProjectedStopTime, 0, len(stops))
	for _, s := range stops {
		t, ok := s.Arrival()
		if !ok {
			continue
		}
		scheduled := d.ServiceDay.Add(t.Duration())
		out = append(out, ProjectedStopTime{
			StopID:       s.StopID,
			StopSequence: s.StopSequence,
			Scheduled:    scheduled,
			Estimated:    scheduled.Add(d.Offset),
		})
	}
	return out
}
