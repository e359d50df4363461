package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// VetWorkingHours is a recurring weekly shift. Weekday is Monday=0 ... Sunday=6.
type VetWorkingHours struct {
	bun.BaseModel `bun:"table:vet_working_hours"`

	ID        int64     `bun:"id,pk,autoincrement"`
	VetID     int64     `bun:"vet_id,notnull"`
	Weekday   int16     `bun:"weekday,notnull"`
	StartTime TimeOfDay `bun:"start_time,notnull,type:time"`
	EndTime   TimeOfDay `bun:"end_time,notnull,type:time"`
	IsActive  bool      `bun:"is_active,notnull"`
}

// VetAvailabilityException replaces a vet's weekly hours on one date.
// A day off wins; otherwise both times or neither are set, and neither
// means the weekly hours still apply.
type VetAvailabilityException struct {
	bun.BaseModel `bun:"table:vet_availability_exceptions"`

	ID        int64      `bun:"id,pk,autoincrement"`
	ClinicID  int64      `bun:"clinic_id,notnull"`
	VetID     int64      `bun:"vet_id,notnull"`
	Date      time.Time  `bun:"date,notnull,type:date"`
	IsDayOff  bool       `bun:"is_day_off,notnull"`
	StartTime *TimeOfDay `bun:"start_time,type:time"`
	EndTime   *TimeOfDay `bun:"end_time,type:time"`
	Note      string     `bun:"note"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (e VetAvailabilityException) HasCustomHours() bool {
	return e.StartTime != nil && e.EndTime != nil
}

func (e VetAvailabilityException) HasPartialHours() bool {
	return (e.StartTime == nil) != (e.EndTime == nil)
}

// ClinicHoliday closes a whole clinic for one date.
type ClinicHoliday struct {
	bun.BaseModel `bun:"table:clinic_holidays"`

	ID        int64     `bun:"id,pk,autoincrement"`
	ClinicID  int64     `bun:"clinic_id,notnull"`
	Date      time.Time `bun:"date,notnull,type:date"`
	Reason    string    `bun:"reason"`
	IsActive  bool      `bun:"is_active,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type Room struct {
	bun.BaseModel `bun:"table:rooms"`

	ID           int64  `bun:"id,pk,autoincrement"`
	ClinicID     int64  `bun:"clinic_id,notnull"`
	Name         string `bun:"name,notnull"`
	DisplayOrder int    `bun:"display_order,notnull"`
	IsActive     bool   `bun:"is_active,notnull"`
}
