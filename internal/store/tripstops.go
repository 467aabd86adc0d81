package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gtfs-live/internal/gtfs"
)

// RebuildTripStops replaces the carrier's staged trip_stops rows with one
// row per staged trip, its stop ids ordered by stop_sequence. Trips without
// stop times get no row.
func (db *DB) RebuildTripStops(ctx context.Context, carrier string) (int, error) {
	ts := gtfs.TripStopsTable.StagingName()
	trips := gtfs.TripsTable.StagingName()
	stopTimes := gtfs.StopTimesTable.StagingName()

	var inserted int64
	err := db.inTx(ctx, "rebuild trip stops "+carrier, func(tx *sqlx.Tx) error {
		del := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE carrier_code = ?", ts))
		if _, err := tx.ExecContext(ctx, del, carrier); err != nil {
			return err
		}
		ins := tx.Rebind(fmt.Sprintf(`
INSERT INTO %s (carrier_code, trip_id, direction_id, route_id, stop_ids)
SELECT t.carrier_code, t.trip_id, t.direction_id, t.route_id, %s
FROM %s t
JOIN %s st ON st.carrier_code = t.carrier_code AND st.trip_id = t.trip_id
WHERE t.carrier_code = ?
GROUP BY t.carrier_code, t.trip_id, t.direction_id, t.route_id`,
			ts, db.dialect.JSONArrayAgg("st.stop_id", "st.stop_sequence"), trips, stopTimes))
		res, err := tx.ExecContext(ctx, ins, carrier)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	return int(inserted), err
}
