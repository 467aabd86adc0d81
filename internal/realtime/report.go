// Package realtime turns vehicle reports arriving over NATS into projected
// stop times.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtfs-live/internal/geo"
	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/projector"
)

// Wire formats, taken from the last subject token.
const (
	FormatJSON   = "json"
	FormatGTFSRT = "pb"
)

// SubjectRoot prefixes report subjects: vehicles.<carrier>.<format>.
const SubjectRoot = "vehicles"

var ErrBadReport = errors.New("malformed vehicle report")

// Report is the JSON vehicle report. TripID is the carrier's own id; it is
// namespaced on decode.
type Report struct {
	TripID          string       `json:"tripId"`
	Lat             *float64     `json:"lat,omitempty"`
	Lon             *float64     `json:"lon,omitempty"`
	Timestamp       int64        `json:"timestamp,omitempty"` // unix seconds
	VehicleLabel    string       `json:"vehicle,omitempty"`
	StopTimeUpdates []StopUpdate `json:"stopTimeUpdates,omitempty"`
}

type StopUpdate struct {
	StopID string `json:"stopId"`
	Time   int64  `json:"time"` // unix seconds
}

// Update is a report normalised to either a position or a list of stop time
// updates for one namespaced trip.
type Update struct {
	Carrier         string
	TripID          string
	Fix             *projector.Fix
	StopTimeUpdates []projector.StopTimeUpdate
}

// ParseSubject splits vehicles.<carrier>.<format>.
func ParseSubject(subject string) (carrier, format string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != SubjectRoot || parts[1] == "" {
		return "", "", fmt.Errorf("%w: subject %q", ErrBadReport, subject)
	}
	switch parts[2] {
	case FormatJSON, FormatGTFSRT:
		return parts[1], parts[2], nil
	}
	return "", "", fmt.Errorf("%w: unknown format %q", ErrBadReport, parts[2])
}

// DecodeJSON normalises one JSON report. now stamps reports without a
// timestamp.
func DecodeJSON(carrier string, data []byte, now time.Time) (Update, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrBadReport, err)
	}
	if r.TripID == "" {
		return Update{}, fmt.Errorf("%w: missing tripId", ErrBadReport)
	}
	u := Update{Carrier: carrier, TripID: gtfs.Namespace(carrier, r.TripID)}

	if len(r.StopTimeUpdates) > 0 {
		for _, s := range r.StopTimeUpdates {
			if s.StopID == "" || s.Time == 0 {
				return Update{}, fmt.Errorf("%w: stop time update needs stopId and time", ErrBadReport)
			}
			u.StopTimeUpdates = append(u.StopTimeUpdates, projector.StopTimeUpdate{
				StopID: s.StopID,
				At:     time.Unix(s.Time, 0),
			})
		}
		return u, nil
	}

	if r.Lat == nil || r.Lon == nil {
		return Update{}, fmt.Errorf("%w: needs a position or stop time updates", ErrBadReport)
	}
	at := now
	if r.Timestamp > 0 {
		at = time.Unix(r.Timestamp, 0)
	}
	u.Fix = &projector.Fix{Point: geo.Point{Lat: *r.Lat, Lon: *r.Lon}, At: at}
	return u, nil
}
