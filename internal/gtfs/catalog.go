package gtfs

import (
	"path"
	"strings"
)

// EntityType identifies one GTFS file.
type EntityType int

const (
	Agency EntityType = iota
	Calendar
	CalendarDates
	Routes
	Shapes
	Stops
	Trips
	StopTimes
	Frequencies
	Transfers
)

// ImportOrder is the order entity types are loaded in. Later types reference
// earlier ones by id.
var ImportOrder = []EntityType{
	Agency, Calendar, CalendarDates, Routes, Shapes, Stops, Trips, StopTimes, Frequencies, Transfers,
}

var entityNames = map[EntityType]string{
	Agency:        "agency",
	Calendar:      "calendar",
	CalendarDates: "calendar_dates",
	Routes:        "routes",
	Shapes:        "shapes",
	Stops:         "stops",
	Trips:         "trips",
	StopTimes:     "stop_times",
	Frequencies:   "frequencies",
	Transfers:     "transfers",
}

// String returns the file base name, e.g. "stop_times".
func (e EntityType) String() string {
	if n, ok := entityNames[e]; ok {
		return n
	}
	return "unknown"
}

// EntityFromFile maps an archive member such as "feed/stop_times.txt" to its
// entity type. Only .txt and .csv members are recognised.
func EntityFromFile(name string) (EntityType, bool) {
	base := path.Base(name)
	ext := strings.ToLower(path.Ext(base))
	if ext != ".txt" && ext != ".csv" {
		return 0, false
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	for e, n := range entityNames {
		if n == stem {
			return e, true
		}
	}
	return 0, false
}

// FieldKind is the parsed type of a source field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindFloat
	KindDate
	KindTime
)

// Field describes one recognised source column.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Schema lists the fields kept for an entity type and the table its records
// land in. Columns not listed are dropped on load.
type Schema struct {
	Entity EntityType
	Fields []Field
	Table  *Table
}

func req(name string, kind FieldKind) Field { return Field{Name: name, Kind: kind, Required: true} }
func opt(name string, kind FieldKind) Field { return Field{Name: name, Kind: kind} }

var schemas = map[EntityType]Schema{
	Agency: {
		Entity: Agency,
		Table:  CarriersTable,
		Fields: []Field{req("agency_name", KindString)},
	},
	Calendar: {
		Entity: Calendar,
		Table:  CalendarTable,
		Fields: []Field{
			req("service_id", KindString),
			req("monday", KindInt), req("tuesday", KindInt), req("wednesday", KindInt),
			req("thursday", KindInt), req("friday", KindInt), req("saturday", KindInt),
			req("sunday", KindInt),
			req("start_date", KindDate), req("end_date", KindDate),
		},
	},
	CalendarDates: {
		Entity: CalendarDates,
		Table:  CalendarDatesTable,
		Fields: []Field{
			req("service_id", KindString),
			req("date", KindDate),
			req("exception_type", KindInt),
		},
	},
	Routes: {
		Entity: Routes,
		Table:  RoutesTable,
		Fields: []Field{
			req("route_id", KindString),
			opt("route_short_name", KindString),
			opt("route_long_name", KindString),
			req("route_type", KindInt),
			opt("route_color", KindString),
			opt("route_text_color", KindString),
		},
	},
	Shapes: {
		Entity: Shapes,
		Table:  ShapePointsTable,
		Fields: []Field{
			req("shape_id", KindString),
			req("shape_pt_lat", KindFloat),
			req("shape_pt_lon", KindFloat),
			req("shape_pt_sequence", KindInt),
			opt("shape_dist_traveled", KindFloat),
		},
	},
	Stops: {
		Entity: Stops,
		Table:  StopsTable,
		Fields: []Field{
			req("stop_id", KindString),
			opt("stop_code", KindString),
			opt("stop_name", KindString),
			req("stop_lat", KindFloat),
			req("stop_lon", KindFloat),
			opt("location_type", KindInt),
			opt("parent_station", KindString),
			opt("wheelchair_boarding", KindInt),
			opt("platform_code", KindString),
		},
	},
	Trips: {
		Entity: Trips,
		Table:  TripsTable,
		Fields: []Field{
			req("route_id", KindString),
			req("service_id", KindString),
			req("trip_id", KindString),
			opt("trip_headsign", KindString),
			opt("trip_short_name", KindString),
			opt("direction_id", KindInt),
			opt("block_id", KindString),
			opt("shape_id", KindString),
			opt("wheelchair_accessible", KindInt),
		},
	},
	StopTimes: {
		Entity: StopTimes,
		Table:  StopTimesTable,
		Fields: []Field{
			req("trip_id", KindString),
			opt("arrival_time", KindTime),
			opt("departure_time", KindTime),
			req("stop_id", KindString),
			req("stop_sequence", KindInt),
			opt("pickup_type", KindInt),
			opt("drop_off_type", KindInt),
			opt("shape_dist_traveled", KindFloat),
		},
	},
	Frequencies: {
		Entity: Frequencies,
		Table:  FrequenciesTable,
		Fields: []Field{
			req("trip_id", KindString),
			req("start_time", KindTime),
			req("end_time", KindTime),
			req("headway_secs", KindInt),
			opt("exact_times", KindInt),
		},
	},
	Transfers: {
		Entity: Transfers,
		Table:  TransfersTable,
		Fields: []Field{
			opt("from_stop_id", KindString),
			opt("to_stop_id", KindString),
			opt("from_trip_id", KindString),
			opt("to_trip_id", KindString),
			req("transfer_type", KindInt),
			opt("min_transfer_time", KindInt),
		},
	},
}

// Lookup returns the schema for an entity type.
func Lookup(e EntityType) (Schema, bool) {
	s, ok := schemas[e]
	return s, ok
}

// ColumnType is an engine-neutral column type; the store renders it per
// dialect.
type ColumnType int

const (
	ColText ColumnType = iota
	ColInt
	ColFloat
	ColDate
	ColJSON
)

// Column is one stored column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Table is one generation table. Live tables use Name; staging tables use
// StagingName. Tables with Identity carry a synthetic "id" column that is
// not part of Columns.
type Table struct {
	Name       string
	Columns    []Column
	Identity   bool
	PrimaryKey []string
	Unique     []string
}

// StagingName is the table the loader writes to.
func (t *Table) StagingName() string { return t.Name + "_staging" }

// ColumnNames returns the insertable column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func col(name string, typ ColumnType) Column     { return Column{Name: name, Type: typ} }
func nullCol(name string, typ ColumnType) Column { return Column{Name: name, Type: typ, Nullable: true} }

var (
	CarriersTable = &Table{
		Name:     "carriers",
		Identity: true,
		Columns:  []Column{col("carrier_code", ColText), col("carrier_name", ColText)},
		Unique:   []string{"carrier_code"},
	}
	CalendarTable = &Table{
		Name:     "calendar",
		Identity: true,
		Columns: []Column{
			col("carrier_code", ColText), col("service_id", ColText),
			col("monday", ColInt), col("tuesday", ColInt), col("wednesday", ColInt),
			col("thursday", ColInt), col("friday", ColInt), col("saturday", ColInt),
			col("sunday", ColInt),
			col("start_date", ColDate), col("end_date", ColDate),
		},
	}
	CalendarDatesTable = &Table{
		Name:     "calendar_dates",
		Identity: true,
		Columns: []Column{
			col("carrier_code", ColText), col("service_id", ColText),
			col("date", ColDate), col("exception_type", ColInt),
		},
	}
	RoutesTable = &Table{
		Name: "routes",
		Columns: []Column{
			col("carrier_code", ColText), col("route_id", ColText),
			nullCol("route_short_name", ColText), nullCol("route_long_name", ColText),
			col("route_type", ColInt),
			nullCol("route_color", ColText), nullCol("route_text_color", ColText),
		},
		PrimaryKey: []string{"route_id"},
	}
	ShapesTable = &Table{
		Name:       "shapes",
		Columns:    []Column{col("carrier_code", ColText), col("shape_id", ColText)},
		PrimaryKey: []string{"carrier_code", "shape_id"},
	}
	ShapePointsTable = &Table{
		Name:     "shape_points",
		Identity: true,
		Columns: []Column{
			col("carrier_code", ColText), col("shape_id", ColText),
			col("shape_pt_sequence", ColInt),
			col("shape_pt_lat", ColFloat), col("shape_pt_lon", ColFloat),
			nullCol("shape_dist_traveled", ColFloat),
		},
		Unique: []string{"carrier_code", "shape_id", "shape_pt_sequence"},
	}
	StopsTable = &Table{
		Name: "stops",
		Columns: []Column{
			col("carrier_code", ColText), col("stop_id", ColText),
			nullCol("stop_code", ColText), nullCol("stop_name", ColText),
			col("stop_lat", ColFloat), col("stop_lon", ColFloat),
			nullCol("location_type", ColInt), nullCol("parent_station", ColText),
			nullCol("wheelchair_boarding", ColInt), nullCol("platform_code", ColText),
		},
		PrimaryKey: []string{"carrier_code", "stop_id"},
	}
	TripsTable = &Table{
		Name: "trips",
		Columns: []Column{
			col("carrier_code", ColText), col("trip_id", ColText),
			col("route_id", ColText), col("service_id", ColText),
			nullCol("trip_headsign", ColText), nullCol("trip_short_name", ColText),
			nullCol("direction_id", ColInt), nullCol("block_id", ColText),
			nullCol("shape_id", ColText), nullCol("wheelchair_accessible", ColInt),
		},
		PrimaryKey: []string{"trip_id"},
	}
	StopTimesTable = &Table{
		Name:     "stop_times",
		Identity: true,
		Columns: []Column{
			col("carrier_code", ColText), col("trip_id", ColText),
			col("stop_sequence", ColInt), col("stop_id", ColText),
			nullCol("arrival_secs", ColInt), nullCol("departure_secs", ColInt),
			nullCol("pickup_type", ColInt), nullCol("drop_off_type", ColInt),
			nullCol("shape_dist_traveled", ColFloat),
		},
		Unique: []string{"trip_id", "stop_sequence"},
	}
	FrequenciesTable = &Table{
		Name:     "frequencies",
		Identity: true,
		Columns: []Column{
			col("carrier_code", ColText), col("trip_id", ColText),
			col("start_secs", ColInt), col("end_secs", ColInt),
			col("headway_secs", ColInt), nullCol("exact_times", ColInt),
		},
	}
	TransfersTable = &Table{
		Name:     "transfers",
		Identity: true,
		Columns: []Column{
			col("carrier_code", ColText),
			nullCol("from_stop_id", ColText), nullCol("to_stop_id", ColText),
			nullCol("from_trip_id", ColText), nullCol("to_trip_id", ColText),
			col("transfer_type", ColInt), nullCol("min_transfer_time", ColInt),
		},
	}
	TripStopsTable = &Table{
		Name: "trip_stops",
		Columns: []Column{
			col("carrier_code", ColText), col("trip_id", ColText),
			nullCol("direction_id", ColInt), col("route_id", ColText),
			col("stop_ids", ColJSON),
		},
		PrimaryKey: []string{"trip_id"},
	}
)

// GenerationTables are every table that exists in a live and a staging
// generation and is swapped at cutover.
var GenerationTables = []*Table{
	CarriersTable, CalendarTable, CalendarDatesTable, RoutesTable, ShapesTable,
	ShapePointsTable, StopsTable, TripsTable, StopTimesTable, FrequenciesTable,
	TransfersTable, TripStopsTable,
}
