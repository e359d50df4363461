package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"vetclinic/backend/internal/service/availability"
)

type AvailabilityServer struct {
	svc availabilityService
	log *slog.Logger
}

type availabilityService interface {
	Compute(ctx context.Context, q availability.Query) (availability.Result, error)
	ComputeRooms(ctx context.Context, q availability.RoomsQuery) ([]availability.RoomAvailability, error)
}

var _ AvailabilityServiceServer = (*AvailabilityServer)(nil)

func NewAvailabilityServer(svc availabilityService, log *slog.Logger) *AvailabilityServer {
	if log == nil {
		log = slog.Default()
	}
	return &AvailabilityServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.availability")),
	}
}

func (s *AvailabilityServer) GetAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.requestLogger(ctx, "GetAvailability")

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	q, err := parseQuery(req.GetFields())
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.svc.Compute(ctx, q)
	if err != nil {
		return nil, s.fail(log, "availability compute failed", err, slog.Int64("clinic_id", q.ClinicID))
	}

	out, err := toStruct(res)
	if err != nil {
		log.Error("availability encode failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	log.Debug(
		"availability served",
		slog.Int64("clinic_id", q.ClinicID),
		slog.String("date", q.Date.String()),
		slog.Int("free", len(res.Free)),
		slog.String("closed_reason", res.ClosedReason),
	)
	return out, nil
}

type roomsResponse struct {
	Date     civil.Date                      `json:"date"`
	ClinicID int64                           `json:"clinic_id"`
	Rooms    []availability.RoomAvailability `json:"rooms"`
}

func (s *AvailabilityServer) GetRoomAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.requestLogger(ctx, "GetRoomAvailability")

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	q, err := parseQuery(req.GetFields())
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if q.RoomID != nil {
		log.Warn("invalid request", slog.String("reason", "room_id_not_allowed"))
		return nil, status.Error(codes.InvalidArgument, "room_id is not accepted by GetRoomAvailability")
	}

	rooms, err := s.svc.ComputeRooms(ctx, availability.RoomsQuery{
		ClinicID:    q.ClinicID,
		Date:        q.Date,
		VetID:       q.VetID,
		SlotMinutes: q.SlotMinutes,
	})
	if err != nil {
		return nil, s.fail(log, "room availability compute failed", err, slog.Int64("clinic_id", q.ClinicID))
	}
	if rooms == nil {
		rooms = []availability.RoomAvailability{}
	}

	out, err := toStruct(roomsResponse{Date: q.Date, ClinicID: q.ClinicID, Rooms: rooms})
	if err != nil {
		log.Error("room availability encode failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	log.Debug(
		"room availability served",
		slog.Int64("clinic_id", q.ClinicID),
		slog.String("date", q.Date.String()),
		slog.Int("rooms", len(rooms)),
	)
	return out, nil
}

func (s *AvailabilityServer) requestLogger(ctx context.Context, rpc string) *slog.Logger {
	log := s.log.With(slog.String("rpc", rpc))
	if id := RequestIDFromContext(ctx); id != "" {
		log = log.With(slog.String("request_id", id))
	}
	return log
}

func (s *AvailabilityServer) fail(log *slog.Logger, msg string, err error, attrs ...any) error {
	var vErr *availability.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", append([]any{slog.Any("err", err)}, attrs...)...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, append([]any{slog.Any("err", err)}, attrs...)...)
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		log.Error(msg, append([]any{slog.Any("err", err)}, attrs...)...)
		return status.Error(codes.Internal, "internal error")
	}
}

func parseQuery(fields map[string]*structpb.Value) (availability.Query, error) {
	var q availability.Query

	clinicID, err := int64Field(fields, "clinic_id")
	if err != nil {
		return q, err
	}
	if clinicID == nil {
		return q, errors.New("clinic_id is required")
	}
	q.ClinicID = *clinicID

	date, err := dateField(fields, "date")
	if err != nil {
		return q, err
	}
	q.Date = date

	if q.VetID, err = int64Field(fields, "vet_id"); err != nil {
		return q, err
	}
	if q.RoomID, err = int64Field(fields, "room_id"); err != nil {
		return q, err
	}

	slot, err := int64Field(fields, "slot_minutes")
	if err != nil {
		return q, err
	}
	if slot != nil {
		if *slot < math.MinInt32 || *slot > math.MaxInt32 {
			return q, fmt.Errorf("slot_minutes must be between 0 and %d", availability.MaxSlotMinutes)
		}
		n := int(*slot)
		q.SlotMinutes = &n
	}
	return q, nil
}

// int64Field accepts integral numbers and decimal strings. Absent and null
// values yield nil.
func int64Field(fields map[string]*structpb.Value, name string) (*int64, error) {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, fmt.Errorf("%s must be an integer", name)
		}
		n := int64(f)
		return &n, nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(strings.TrimSpace(k.StringValue), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", name)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("%s must be an integer", name)
	}
}

func dateField(fields map[string]*structpb.Value, name string) (civil.Date, error) {
	v, ok := fields[name]
	if !ok || v == nil {
		return civil.Date{}, fmt.Errorf("%s is required", name)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || strings.TrimSpace(s.StringValue) == "" {
		return civil.Date{}, fmt.Errorf("%s must be a YYYY-MM-DD string", name)
	}
	d, err := civil.ParseDate(strings.TrimSpace(s.StringValue))
	if err != nil {
		return civil.Date{}, fmt.Errorf("%s must be a YYYY-MM-DD string", name)
	}
	return d, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}
