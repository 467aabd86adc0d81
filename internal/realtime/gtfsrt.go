package realtime

import (
	"fmt"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"gtfs-live/internal/geo"
	"gtfs-live/internal/gtfs"
	"gtfs-live/internal/projector"
)

// DecodeFeed normalises a GTFS-RT FeedMessage. Vehicle positions become
// fixes and trip updates become stop time updates; entities without a trip
// are dropped.
func DecodeFeed(carrier string, data []byte, now time.Time) ([]Update, error) {
	var feed gtfsrt.FeedMessage
	if err := proto.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReport, err)
	}
	headerTS := feed.GetHeader().GetTimestamp()

	var out []Update
	for _, e := range feed.GetEntity() {
		if e.GetIsDeleted() {
			continue
		}
		if v := e.GetVehicle(); v != nil && v.GetPosition() != nil {
			tripID := v.GetTrip().GetTripId()
			if tripID == "" {
				continue
			}
			at := now
			switch {
			case v.GetTimestamp() > 0:
				at = time.Unix(int64(v.GetTimestamp()), 0)
			case headerTS > 0:
				at = time.Unix(int64(headerTS), 0)
			}
			pos := v.GetPosition()
			out = append(out, Update{
				Carrier: carrier,
				TripID:  gtfs.Namespace(carrier, tripID),
				Fix: &projector.Fix{
					Point: geo.Point{Lat: float64(pos.GetLatitude()), Lon: float64(pos.GetLongitude())},
					At:    at,
				},
			})
			continue
		}
		if tu := e.GetTripUpdate(); tu != nil {
			tripID := tu.GetTrip().GetTripId()
			if tripID == "" {
				continue
			}
			var updates []projector.StopTimeUpdate
			for _, stu := range tu.GetStopTimeUpdate() {
				ts := stu.GetDeparture().GetTime()
				if ts == 0 {
					ts = stu.GetArrival().GetTime()
				}
				if stu.GetStopId() == "" || ts == 0 {
					continue
				}
				updates = append(updates, projector.StopTimeUpdate{StopID: stu.GetStopId(), At: time.Unix(ts, 0)})
			}
			if len(updates) == 0 {
				continue
			}
			out = append(out, Update{
				Carrier:         carrier,
				TripID:          gtfs.Namespace(carrier, tripID),
				StopTimeUpdates: updates,
			})
		}
	}
	return out, nil
}
