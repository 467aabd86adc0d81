package gtfs

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingField marks a required field that is absent or empty.
	ErrMissingField = errors.New("missing required field")
	// ErrMalformedField marks a present value that does not parse as its kind.
	ErrMalformedField = errors.New("malformed field")
	// ErrUnknownEntity is returned for entity types without a schema.
	ErrUnknownEntity = errors.New("unknown entity type")
)

// FieldError locates a bad value in the source feed.
type FieldError struct {
	Carrier string
	Entity  EntityType
	Field   string
	Value   string
	Row     int
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s row %d field %s=%q: %v", e.Carrier, e.Entity, e.Row, e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Header maps column names to positions for one source file.
type Header struct {
	index map[string]int
}

// NewHeader trims names and keeps the first position of duplicates.
func NewHeader(names []string) *Header {
	h := &Header{index: make(map[string]int, len(names))}
	for i, n := range names {
		n = strings.TrimSpace(n)
		if _, dup := h.index[n]; !dup {
			h.index[n] = i
		}
	}
	return h
}

// Row builds a row bound to this header. line is the 1-based line number in
// the source file, used in errors.
func (h *Header) Row(values []string, line int) Row {
	return Row{header: h, values: values, Line: line}
}

// Row is one source record addressed by column name.
type Row struct {
	header *Header
	values []string
	Line   int
}

// RowFromMap builds a row from a column→value map.
func RowFromMap(m map[string]string, line int) Row {
	names := make([]string, 0, len(m))
	values := make([]string, 0, len(m))
	for k, v := range m {
		names = append(names, k)
		values = append(values, v)
	}
	return NewHeader(names).Row(values, line)
}

// Get returns the trimmed value of a column. Missing columns and empty values
// both report false.
func (r Row) Get(name string) (string, bool) {
	if r.header == nil {
		return "", false
	}
	i, ok := r.header.index[name]
	if !ok || i >= len(r.values) {
		return "", false
	}
	v := strings.TrimSpace(r.values[i])
	return v, v != ""
}

// Namespace prefixes an upstream id with the carrier code.
func Namespace(carrier, id string) string {
	return carrier + "-" + id
}

// Transform validates row against the entity's schema and builds its typed
// record. Unrecognised columns are ignored and empty optional values become
// NULL.
func Transform(carrier string, entity EntityType, row Row) (Record, error) {
	schema, ok := Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, entity)
	}
	build, ok := builders[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	vals, err := parseFields(carrier, schema, row)
	if err != nil {
		return nil, err
	}
	rec, err := build(carrier, vals)
	if err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			fe.Carrier, fe.Entity, fe.Row = carrier, entity, row.Line
		}
		return nil, err
	}
	return rec, nil
}

// fields holds the parsed values of present fields, keyed by name.
type fields map[string]any

func parseFields(carrier string, schema Schema, row Row) (fields, error) {
	out := make(fields, len(schema.Fields))
	for _, f := range schema.Fields {
		raw, ok := row.Get(f.Name)
		if !ok {
			if f.Required {
				return nil, &FieldError{Carrier: carrier, Entity: schema.Entity, Field: f.Name, Row: row.Line, Err: ErrMissingField}
			}
			continue
		}
		v, err := parseKind(f.Kind, raw)
		if err != nil {
			return nil, &FieldError{
				Carrier: carrier, Entity: schema.Entity, Field: f.Name, Value: raw, Row: row.Line,
				Err: fmt.Errorf("%w: %v", ErrMalformedField, err),
			}
		}
		out[f.Name] = v
	}
	return out, nil
}

func parseKind(kind FieldKind, raw string) (any, error) {
	switch kind {
	case KindInt:
		return strconv.ParseInt(raw, 10, 64)
	case KindFloat:
		return strconv.ParseFloat(raw, 64)
	case KindDate:
		return time.Parse("20060102", raw)
	case KindTime:
		return ParseServiceTime(raw)
	default:
		return raw, nil
	}
}

func (f fields) str(name string) string {
	s, _ := f[name].(string)
	return s
}

func (f fields) nullStr(name string) sql.NullString {
	s, ok := f[name].(string)
	return sql.NullString{String: s, Valid: ok}
}

func (f fields) integer(name string) int64 {
	n, _ := f[name].(int64)
	return n
}

func (f fields) nullInt(name string) sql.NullInt64 {
	n, ok := f[name].(int64)
	return sql.NullInt64{Int64: n, Valid: ok}
}

func (f fields) float(name string) float64 {
	x, _ := f[name].(float64)
	return x
}

func (f fields) nullFloat(name string) sql.NullFloat64 {
	x, ok := f[name].(float64)
	return sql.NullFloat64{Float64: x, Valid: ok}
}

func (f fields) date(name string) time.Time {
	t, _ := f[name].(time.Time)
	return t
}

func (f fields) serviceTime(name string) ServiceTime {
	t, _ := f[name].(ServiceTime)
	return t
}

func (f fields) nullServiceTime(name string) NullServiceTime {
	t, ok := f[name].(ServiceTime)
	return NullServiceTime{Time: t, Valid: ok}
}

// nullTrip namespaces an optional trip reference.
func (f fields) nullTrip(carrier, name string) sql.NullString {
	s := f.nullStr(name)
	if s.Valid {
		s.String = Namespace(carrier, s.String)
	}
	return s
}

// oneOf rejects values outside the allowed set.
func (f fields) oneOf(name string, allowed ...int64) error {
	n, ok := f[name].(int64)
	if !ok {
		return nil
	}
	for _, a := range allowed {
		if n == a {
			return nil
		}
	}
	return &FieldError{Field: name, Value: strconv.FormatInt(n, 10), Err: fmt.Errorf("%w: want one of %v", ErrMalformedField, allowed)}
}

type builder func(carrier string, f fields) (Record, error)

var builders = map[EntityType]builder{
	Agency: func(carrier string, f fields) (Record, error) {
		return Carrier{Code: carrier, Name: f.str("agency_name")}, nil
	},
	Calendar: func(carrier string, f fields) (Record, error) {
		c := CalendarEntry{
			Carrier:   carrier,
			ServiceID: f.str("service_id"),
			StartDate: f.date("start_date"),
			EndDate:   f.date("end_date"),
		}
		for i, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
			if err := f.oneOf(day, 0, 1); err != nil {
				return nil, err
			}
			c.Days[i] = f.integer(day) == 1
		}
		return c, nil
	},
	CalendarDates: func(carrier string, f fields) (Record, error) {
		if err := f.oneOf("exception_type", ServiceAdded, ServiceRemoved); err != nil {
			return nil, err
		}
		return CalendarDate{
			Carrier:       carrier,
			ServiceID:     f.str("service_id"),
			Date:          f.date("date"),
			ExceptionType: int(f.integer("exception_type")),
		}, nil
	},
	Routes: func(carrier string, f fields) (Record, error) {
		return Route{
			Carrier:   carrier,
			ID:        Namespace(carrier, f.str("route_id")),
			ShortName: f.nullStr("route_short_name"),
			LongName:  f.nullStr("route_long_name"),
			Type:      RouteType(f.integer("route_type")),
			Color:     f.nullStr("route_color"),
			TextColor: f.nullStr("route_text_color"),
		}, nil
	},
	Shapes: func(carrier string, f fields) (Record, error) {
		return ShapePoint{
			Carrier:      carrier,
			ShapeID:      f.str("shape_id"),
			Sequence:     f.integer("shape_pt_sequence"),
			Lat:          f.float("shape_pt_lat"),
			Lon:          f.float("shape_pt_lon"),
			DistTraveled: f.nullFloat("shape_dist_traveled"),
		}, nil
	},
	Stops: func(carrier string, f fields) (Record, error) {
		if err := f.oneOf("location_type", 0, 1, 2, 3, 4); err != nil {
			return nil, err
		}
		return Stop{
			Carrier:            carrier,
			ID:                 f.str("stop_id"),
			Code:               f.nullStr("stop_code"),
			Name:               f.nullStr("stop_name"),
			Lat:                f.float("stop_lat"),
			Lon:                f.float("stop_lon"),
			LocationType:       f.nullInt("location_type"),
			ParentStation:      f.nullStr("parent_station"),
			WheelchairBoarding: f.nullInt("wheelchair_boarding"),
			PlatformCode:       f.nullStr("platform_code"),
		}, nil
	},
	Trips: func(carrier string, f fields) (Record, error) {
		if err := f.oneOf("direction_id", 0, 1); err != nil {
			return nil, err
		}
		return Trip{
			Carrier:              carrier,
			ID:                   Namespace(carrier, f.str("trip_id")),
			RouteID:              Namespace(carrier, f.str("route_id")),
			ServiceID:            f.str("service_id"),
			Headsign:             f.nullStr("trip_headsign"),
			ShortName:            f.nullStr("trip_short_name"),
			DirectionID:          f.nullInt("direction_id"),
			BlockID:              f.nullStr("block_id"),
			ShapeID:              f.nullStr("shape_id"),
			WheelchairAccessible: f.nullInt("wheelchair_accessible"),
		}, nil
	},
	StopTimes: func(carrier string, f fields) (Record, error) {
		return StopTime{
			Carrier:           carrier,
			TripID:            Namespace(carrier, f.str("trip_id")),
			StopSequence:      f.integer("stop_sequence"),
			StopID:            f.str("stop_id"),
			Arrival:           f.nullServiceTime("arrival_time"),
			Departure:         f.nullServiceTime("departure_time"),
			PickupType:        f.nullInt("pickup_type"),
			DropOffType:       f.nullInt("drop_off_type"),
			ShapeDistTraveled: f.nullFloat("shape_dist_traveled"),
		}, nil
	},
	Frequencies: func(carrier string, f fields) (Record, error) {
		return Frequency{
			Carrier:     carrier,
			TripID:      Namespace(carrier, f.str("trip_id")),
			Start:       f.serviceTime("start_time"),
			End:         f.serviceTime("end_time"),
			HeadwaySecs: f.integer("headway_secs"),
			ExactTimes:  f.nullInt("exact_times"),
		}, nil
	},
	Transfers: func(carrier string, f fields) (Record, error) {
		return Transfer{
			Carrier:         carrier,
			FromStopID:      f.nullStr("from_stop_id"),
			ToStopID:        f.nullStr("to_stop_id"),
			FromTripID:      f.nullTrip(carrier, "from_trip_id"),
			ToTripID:        f.nullTrip(carrier, "to_trip_id"),
			TransferType:    f.integer("transfer_type"),
			MinTransferTime: f.nullInt("min_transfer_time"),
		}, nil
	},
}
