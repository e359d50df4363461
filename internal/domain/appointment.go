package domain

import (
	"time"

	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCheckedIn AppointmentStatus = "checked_in"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
)

// Appointment is the read model of a booking. Rows are written elsewhere;
// availability only reads them.
type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID        int64             `bun:"id,pk,autoincrement"`
	ClinicID  int64             `bun:"clinic_id,notnull"`
	PatientID int64             `bun:"patient_id,notnull"`
	VetID     int64             `bun:"vet_id,notnull"`
	RoomID    *int64            `bun:"room_id"`
	StartsAt  time.Time         `bun:"starts_at,notnull"`
	EndsAt    time.Time         `bun:"ends_at,notnull"`
	Status    AppointmentStatus `bun:"status,notnull"`
	Reason    string            `bun:"reason"`
	CreatedAt time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (a Appointment) Busy() BusyInterval {
	return BusyInterval{AppointmentID: a.ID, Start: a.StartsAt, End: a.EndsAt}
}
