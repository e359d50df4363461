package store

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"vetclinic/backend/internal/domain"
)

// AvailabilityRepository runs reads that must observe one consistent snapshot.
type AvailabilityRepository interface {
	InSnapshot(ctx context.Context, fn func(ctx context.Context, tx AvailabilityTx) error) error
}

// AvailabilityTx exposes the lookups availability depends on. Missing rows
// are reported as nil results, not errors.
type AvailabilityTx interface {
	ClinicHoliday(ctx context.Context, clinicID int64, date civil.Date) (*domain.ClinicHoliday, error)
	VetException(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error)
	VetWorkingHours(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error)
	BusyAppointments(ctx context.Context, q BusyQuery) ([]domain.Appointment, error)
	Rooms(ctx context.Context, clinicID int64) ([]domain.Room, error)
}

// BusyQuery selects non-cancelled appointments overlapping [WindowStart, WindowEnd).
type BusyQuery struct {
	ClinicID    int64
	WindowStart time.Time
	WindowEnd   time.Time
	VetID       *int64
	RoomID      *int64
}
