package availability

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"vetclinic/backend/internal/domain"
	"vetclinic/backend/internal/store"
)

type RoomsQuery struct {
	ClinicID    int64
	Date        civil.Date
	VetID       *int64
	SlotMinutes *int
}

type RoomAvailability struct {
	RoomID       int64  `json:"room_id"`
	RoomName     string `json:"room_name"`
	Availability Result `json:"availability"`
}

// ComputeRooms computes availability for every active room of a clinic,
// in display order.
func (s *Service) ComputeRooms(ctx context.Context, q RoomsQuery) ([]RoomAvailability, error) {
	base := Query{ClinicID: q.ClinicID, Date: q.Date, VetID: q.VetID, SlotMinutes: q.SlotMinutes}
	if err := s.validate(base); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "availability.ComputeRooms", trace.WithAttributes(queryAttributes(base)...))
	defer span.End()

	var rooms []domain.Room
	err := s.repo.InSnapshot(ctx, func(ctx context.Context, tx store.AvailabilityTx) error {
		rows, err := tx.Rooms(ctx, q.ClinicID)
		if err != nil {
			return err
		}
		rooms = rows
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rooms lookup failed")
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	span.SetAttributes(attribute.Int("availability.rooms", len(rooms)))

	out := make([]RoomAvailability, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.roomsConcurrency)
	for i, room := range rooms {
		g.Go(func() error {
			roomQuery := base
			roomQuery.RoomID = &room.ID
			res, err := s.Compute(gctx, roomQuery)
			if err != nil {
				return fmt.Errorf("room %d: %w", room.ID, err)
			}
			out[i] = RoomAvailability{RoomID: room.ID, RoomName: room.Name, Availability: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "room availability failed")
		return nil, err
	}
	return out, nil
}
