package postgres

import (
	"context"
	"database/sql"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/uptrace/bun"

	"vetclinic/backend/internal/domain"
	"vetclinic/backend/internal/store"
)

type AvailabilityRepo struct {
	db *bun.DB
}

func NewAvailabilityRepo(db *bun.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

type availabilityTx struct {
	tx bun.Tx
}

var snapshotTxOptions = &sql.TxOptions{
	Isolation: sql.LevelRepeatableRead,
	ReadOnly:  true,
}

func (r *AvailabilityRepo) InSnapshot(ctx context.Context, fn func(ctx context.Context, tx store.AvailabilityTx) error) error {
	return r.db.RunInTx(ctx, snapshotTxOptions, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, availabilityTx{tx: tx})
	})
}

func (r availabilityTx) ClinicHoliday(ctx context.Context, clinicID int64, date civil.Date) (*domain.ClinicHoliday, error) {
	var row domain.ClinicHoliday
	err := r.tx.NewSelect().
		Model(&row).
		Where("clinic_id = ?", clinicID).
		Where("date = ?::date", date.String()).
		Where("is_active").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r availabilityTx) VetException(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error) {
	var row domain.VetAvailabilityException
	err := r.tx.NewSelect().
		Model(&row).
		Where("clinic_id = ?", clinicID).
		Where("vet_id = ?", vetID).
		Where("date = ?::date", date.String()).
		OrderExpr("id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r availabilityTx) VetWorkingHours(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
	var rows []domain.VetWorkingHours
	err := r.tx.NewSelect().
		Model(&rows).
		Where("vet_id = ?", vetID).
		Where("weekday = ?", weekday).
		Where("is_active").
		OrderExpr("start_time ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r availabilityTx) BusyAppointments(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	query := r.tx.NewSelect().
		Model(&rows).
		Column("id", "clinic_id", "patient_id", "vet_id", "room_id", "starts_at", "ends_at", "status").
		Where("clinic_id = ?", q.ClinicID).
		Where("starts_at < ?", q.WindowEnd).
		Where("ends_at > ?", q.WindowStart).
		Where("status <> ?", domain.AppointmentStatusCancelled)
	if q.VetID != nil {
		query = query.Where("vet_id = ?", *q.VetID)
	}
	if q.RoomID != nil {
		query = query.Where("room_id = ?", *q.RoomID)
	}
	err := query.OrderExpr("starts_at ASC, id ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r availabilityTx) Rooms(ctx context.Context, clinicID int64) ([]domain.Room, error) {
	var rows []domain.Room
	err := r.tx.NewSelect().
		Model(&rows).
		Where("clinic_id = ?", clinicID).
		Where("is_active").
		OrderExpr("display_order ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
