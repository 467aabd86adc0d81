package gtfs

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ServiceTime is an offset from the reference midnight of a service day.
// GTFS allows hours past 23 for trips running after midnight, so the value is
// never wrapped into a calendar date.
type ServiceTime time.Duration

// ParseServiceTime parses H:MM:SS or HH:MM:SS; hours may exceed 23.
func ParseServiceTime(s string) (ServiceTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("service time %q: want HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("service time %q: bad hours", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("service time %q: bad minutes", s)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil || sec < 0 || sec > 59 || len(parts[2]) != 2 {
		return 0, fmt.Errorf("service time %q: bad seconds", s)
	}
	return ServiceTime(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second), nil
}

// ServiceTimeFromSeconds converts a stored seconds-since-midnight value.
func ServiceTimeFromSeconds(sec int64) ServiceTime {
	return ServiceTime(time.Duration(sec) * time.Second)
}

func (t ServiceTime) Duration() time.Duration { return time.Duration(t) }

// Seconds returns the whole seconds since the service day's midnight.
func (t ServiceTime) Seconds() int64 { return int64(time.Duration(t) / time.Second) }

// String formats as HH:MM:SS, keeping hours above 23. Negative offsets,
// which only appear after applying an early delay, get a leading minus.
func (t ServiceTime) String() string {
	sec := t.Seconds()
	sign := ""
	if sec < 0 {
		sign = "-"
		sec = -sec
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, sec/3600, (sec%3600)/60, sec%60)
}

// On returns the wall-clock instant of t on the service day containing day.
func (t ServiceTime) On(day time.Time) time.Time {
	return ServiceDay(day).Add(t.Duration())
}

// ServiceDay returns the reference midnight of the service day that day
// falls on: noon minus twelve hours, which stays correct across DST changes.
func ServiceDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, day.Location()).Add(-12 * time.Hour)
}

// NullServiceTime is a ServiceTime that may be absent.
type NullServiceTime struct {
	Time  ServiceTime
	Valid bool
}

// Seconds returns the stored form: whole seconds, or NULL.
func (n NullServiceTime) Seconds() sql.NullInt64 {
	return sql.NullInt64{Int64: n.Time.Seconds(), Valid: n.Valid}
}
