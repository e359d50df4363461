package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TimeOfDay is a wall-clock time without a date, stored in Postgres `time` columns.
type TimeOfDay struct {
	civil.Time
}

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay{civil.Time{Hour: hour, Minute: minute}}
}

// ParseTimeOfDay accepts HH:MM, HH:MM:SS and HH:MM:SS.fraction.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		s += ":00"
	}
	t, err := civil.ParseTime(s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay{t}, nil
}

func (t TimeOfDay) SinceMidnight() time.Duration {
	return time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second +
		time.Duration(t.Nanosecond)
}

func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.SinceMidnight() < o.SinceMidnight()
}

// On places t on date d in loc. Nonexistent wall times around DST shifts
// are normalized the way time.Date does.
func (t TimeOfDay) On(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, loc)
}

func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = TimeOfDay{}
		return nil
	case string:
		parsed, err := ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case []byte:
		return t.Scan(string(v))
	case time.Time:
		*t = TimeOfDay{civil.TimeOf(v)}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

// WeekdayIndex numbers days Monday=0 ... Sunday=6, as weekly hours are stored.
func WeekdayIndex(d civil.Date) int16 {
	wd := d.In(time.UTC).Weekday()
	return int16((int(wd) + 6) % 7)
}
