package gtfs

import (
	"database/sql"
	"time"
)

// Record is a typed, carrier-namespaced row ready to be written to its
// table. Values are aligned with Table().Columns.
type Record interface {
	Table() *Table
	Values() []any
}

// ParentRecord is implemented by records whose parent row is derived from
// them instead of being loaded from its own file.
type ParentRecord interface {
	Record
	Parent() Record
}

// RouteType is the GTFS route_type.
type RouteType int

const (
	RouteTypeTram  RouteType = 0
	RouteTypeMetro RouteType = 1
	RouteTypeRail  RouteType = 2
	RouteTypeBus   RouteType = 3
)

func (t RouteType) String() string {
	switch t {
	case RouteTypeTram:
		return "tram"
	case RouteTypeMetro:
		return "metro"
	case RouteTypeRail:
		return "train"
	case RouteTypeBus:
		return "bus"
	}
	return "unknown"
}

// Location types for stops.
const (
	LocationStop     = 0
	LocationStation  = 1
	LocationEntrance = 2
)

// Calendar date exception types.
const (
	ServiceAdded   = 1
	ServiceRemoved = 2
)

type Carrier struct {
	Code string
	Name string
}

func (c Carrier) Table() *Table { return CarriersTable }
func (c Carrier) Values() []any { return []any{c.Code, c.Name} }

type CalendarEntry struct {
	Carrier   string
	ServiceID string
	Days      [7]bool // Monday first
	StartDate time.Time
	EndDate   time.Time
}

func (c CalendarEntry) Table() *Table { return CalendarTable }
func (c CalendarEntry) Values() []any {
	v := []any{c.Carrier, c.ServiceID}
	for _, on := range c.Days {
		v = append(v, boolInt(on))
	}
	return append(v, c.StartDate, c.EndDate)
}

// RunsOn reports whether the weekly pattern covers day.
func (c CalendarEntry) RunsOn(day time.Time) bool {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(c.StartDate) || d.After(c.EndDate) {
		return false
	}
	return c.Days[(int(d.Weekday())+6)%7]
}

type CalendarDate struct {
	Carrier       string
	ServiceID     string
	Date          time.Time
	ExceptionType int
}

func (c CalendarDate) Table() *Table { return CalendarDatesTable }
func (c CalendarDate) Values() []any {
	return []any{c.Carrier, c.ServiceID, c.Date, int64(c.ExceptionType)}
}

type Route struct {
	Carrier   string
	ID        string
	ShortName sql.NullString
	LongName  sql.NullString
	Type      RouteType
	Color     sql.NullString
	TextColor sql.NullString
}

func (r Route) Table() *Table { return RoutesTable }
func (r Route) Values() []any {
	return []any{r.Carrier, r.ID, r.ShortName, r.LongName, int64(r.Type), r.Color, r.TextColor}
}

type Shape struct {
	Carrier string
	ID      string
}

func (s Shape) Table() *Table { return ShapesTable }
func (s Shape) Values() []any { return []any{s.Carrier, s.ID} }

type ShapePoint struct {
	Carrier      string
	ShapeID      string
	Sequence     int64
	Lat          float64
	Lon          float64
	DistTraveled sql.NullFloat64
}

func (p ShapePoint) Table() *Table  { return ShapePointsTable }
func (p ShapePoint) Parent() Record { return Shape{Carrier: p.Carrier, ID: p.ShapeID} }
func (p ShapePoint) Values() []any {
	return []any{p.Carrier, p.ShapeID, p.Sequence, p.Lat, p.Lon, p.DistTraveled}
}

type Stop struct {
	Carrier            string
	ID                 string
	Code               sql.NullString
	Name               sql.NullString
	Lat                float64
	Lon                float64
	LocationType       sql.NullInt64
	ParentStation      sql.NullString
	WheelchairBoarding sql.NullInt64
	PlatformCode       sql.NullString
}

func (s Stop) Table() *Table { return StopsTable }
func (s Stop) Values() []any {
	return []any{
		s.Carrier, s.ID, s.Code, s.Name, s.Lat, s.Lon,
		s.LocationType, s.ParentStation, s.WheelchairBoarding, s.PlatformCode,
	}
}

type Trip struct {
	Carrier              string
	ID                   string
	RouteID              string
	ServiceID            string
	Headsign             sql.NullString
	ShortName            sql.NullString
	DirectionID          sql.NullInt64
	BlockID              sql.NullString
	ShapeID              sql.NullString
	WheelchairAccessible sql.NullInt64
}

func (t Trip) Table() *Table { return TripsTable }
func (t Trip) Values() []any {
	return []any{
		t.Carrier, t.ID, t.RouteID, t.ServiceID, t.Headsign, t.ShortName,
		t.DirectionID, t.BlockID, t.ShapeID, t.WheelchairAccessible,
	}
}

type StopTime struct {
	Carrier           string
	TripID            string
	StopSequence      int64
	StopID            string
	Arrival           NullServiceTime
	Departure         NullServiceTime
	PickupType        sql.NullInt64
	DropOffType       sql.NullInt64
	ShapeDistTraveled sql.NullFloat64
}

func (s StopTime) Table() *Table { return StopTimesTable }
func (s StopTime) Values() []any {
	return []any{
		s.Carrier, s.TripID, s.StopSequence, s.StopID, s.Arrival.Seconds(), s.Departure.Seconds(),
		s.PickupType, s.DropOffType, s.ShapeDistTraveled,
	}
}

type Frequency struct {
	Carrier     string
	TripID      string
	Start       ServiceTime
	End         ServiceTime
	HeadwaySecs int64
	ExactTimes  sql.NullInt64
}

func (f Frequency) Table() *Table { return FrequenciesTable }
func (f Frequency) Values() []any {
	return []any{f.Carrier, f.TripID, f.Start.Seconds(), f.End.Seconds(), f.HeadwaySecs, f.ExactTimes}
}

type Transfer struct {
	Carrier         string
	FromStopID      sql.NullString
	ToStopID        sql.NullString
	FromTripID      sql.NullString
	ToTripID        sql.NullString
	TransferType    int64
	MinTransferTime sql.NullInt64
}

func (t Transfer) Table() *Table { return TransfersTable }
func (t Transfer) Values() []any {
	return []any{
		t.Carrier, t.FromStopID, t.ToStopID, t.FromTripID, t.ToTripID,
		t.TransferType, t.MinTransferTime,
	}
}

// TripStops is the derived per-trip ordered stop list.
type TripStops struct {
	Carrier     string
	TripID      string
	DirectionID sql.NullInt64
	RouteID     string
	StopIDs     []string
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
