package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vetclinic/backend/internal/domain"
	"vetclinic/backend/internal/store"
)

const MaxSlotMinutes = 24 * 60

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ResultCache stores encoded results. Get returns store.ErrNotFound on a miss.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Service struct {
	repo             store.AvailabilityRepository
	defaults         Defaults
	cache            ResultCache
	cacheTTL         time.Duration
	roomsConcurrency int
	log              *slog.Logger
	tracer           trace.Tracer
}

type Option func(*Service)

func WithCache(cache ResultCache, ttl time.Duration) Option {
	return func(s *Service) {
		if cache == nil || ttl <= 0 {
			return
		}
		s.cache = cache
		s.cacheTTL = ttl
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithRoomsConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.roomsConcurrency = n
		}
	}
}

func NewService(repo store.AvailabilityRepository, defaults Defaults, opts ...Option) *Service {
	s := &Service{
		repo:             repo,
		defaults:         defaults,
		roomsConcurrency: 4,
		log:              slog.Default(),
		tracer:           otel.Tracer("vetclinic/backend/internal/service/availability"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "service.availability"))
	return s
}

type Query struct {
	ClinicID int64
	Date     civil.Date
	VetID    *int64
	RoomID   *int64
	// SlotMinutes nil or zero selects the configured default.
	SlotMinutes *int
}

type Result struct {
	ClinicID      int64                 `json:"clinic_id"`
	Date          civil.Date            `json:"date"`
	VetID         *int64                `json:"vet_id"`
	RoomID        *int64                `json:"room_id"`
	Timezone      string                `json:"timezone"`
	SlotMinutes   int                   `json:"slot_minutes"`
	HoursSource   string                `json:"hours_source"`
	ClosedReason  string                `json:"closed_reason,omitempty"`
	WorkBounds    *domain.Interval      `json:"workday"`
	WorkIntervals []domain.Interval     `json:"work_intervals"`
	BusyRaw       []domain.BusyInterval `json:"busy_raw"`
	Busy          []domain.Interval     `json:"busy"`
	Free          []domain.Interval     `json:"free"`
}

func (r Result) Closed() bool {
	return r.WorkBounds == nil
}

func (s *Service) validate(q Query) error {
	if q.ClinicID <= 0 {
		return validationError("clinic_id must be positive")
	}
	if !q.Date.IsValid() {
		return validationError("date is invalid")
	}
	if q.VetID != nil && *q.VetID <= 0 {
		return validationError("vet_id must be positive")
	}
	if q.RoomID != nil && *q.RoomID <= 0 {
		return validationError("room_id must be positive")
	}
	if q.SlotMinutes != nil && (*q.SlotMinutes < 0 || *q.SlotMinutes > MaxSlotMinutes) {
		return validationError("slot_minutes must be between 0 and 1440")
	}
	return nil
}

func (s *Service) slotMinutes(q Query) int {
	if q.SlotMinutes != nil && *q.SlotMinutes > 0 {
		return *q.SlotMinutes
	}
	return s.defaults.slotMinutes()
}

// Compute returns the free slots for one clinic day. Closed days are a normal
// result with ClosedReason set; only invalid queries and store failures error.
func (s *Service) Compute(ctx context.Context, q Query) (Result, error) {
	if err := s.validate(q); err != nil {
		return Result{}, err
	}

	ctx, span := s.tracer.Start(ctx, "availability.Compute", trace.WithAttributes(queryAttributes(q)...))
	defer span.End()

	key := s.cacheKey(q)
	if res, ok := s.cached(ctx, key); ok {
		span.SetAttributes(attribute.Bool("availability.cache_hit", true))
		return res, nil
	}

	var res Result
	err := s.repo.InSnapshot(ctx, func(ctx context.Context, tx store.AvailabilityTx) error {
		r, err := s.compute(ctx, tx, q)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "availability computation failed")
		return Result{}, fmt.Errorf("compute availability: %w", err)
	}

	span.SetAttributes(
		attribute.String("availability.hours_source", res.HoursSource),
		attribute.Int("availability.free_slots", len(res.Free)),
	)
	if res.ClosedReason != "" {
		span.SetAttributes(attribute.String("availability.closed_reason", res.ClosedReason))
	}

	s.log.Debug(
		"availability computed",
		slog.Int64("clinic_id", q.ClinicID),
		slog.String("date", q.Date.String()),
		slog.String("hours_source", res.HoursSource),
		slog.String("closed_reason", res.ClosedReason),
		slog.Int("busy", len(res.Busy)),
		slog.Int("free", len(res.Free)),
	)

	s.store(ctx, key, res)
	return res, nil
}

func (s *Service) compute(ctx context.Context, tx store.AvailabilityTx, q Query) (Result, error) {
	loc := s.defaults.location()
	res := Result{
		ClinicID:      q.ClinicID,
		Date:          q.Date,
		VetID:         q.VetID,
		RoomID:        q.RoomID,
		Timezone:      loc.String(),
		SlotMinutes:   s.slotMinutes(q),
		WorkIntervals: []domain.Interval{},
		BusyRaw:       []domain.BusyInterval{},
		Busy:          []domain.Interval{},
		Free:          []domain.Interval{},
	}

	h, err := s.resolveHours(ctx, tx, q)
	if err != nil {
		return Result{}, err
	}
	res.HoursSource = h.source
	if h.closed {
		res.ClosedReason = h.reason
		return res, nil
	}

	work, ok := h.workIntervals(q.Date, loc)
	if !ok {
		res.ClosedReason = ReasonInvalidHours
		return res, nil
	}
	bounds := domain.Interval{Start: work[0].Start, End: work[len(work)-1].End}

	rows, err := tx.BusyAppointments(ctx, store.BusyQuery{
		ClinicID:    q.ClinicID,
		WindowStart: bounds.Start,
		WindowEnd:   bounds.End,
		VetID:       q.VetID,
		RoomID:      q.RoomID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("busy appointments lookup: %w", err)
	}

	busy := make([]domain.Interval, 0, len(rows))
	for _, a := range rows {
		if a.Status == domain.AppointmentStatusCancelled || !a.EndsAt.After(a.StartsAt) {
			continue
		}
		b := a.Busy()
		b.Start = b.Start.In(loc)
		b.End = b.End.In(loc)
		res.BusyRaw = append(res.BusyRaw, b)
		busy = append(busy, b.Interval())
	}
	merged := domain.MergeIntervals(busy)

	slot := time.Duration(res.SlotMinutes) * time.Minute
	for _, w := range work {
		free := domain.Subtract(w, merged)
		res.Free = append(res.Free, domain.SplitIntoSlots(free, slot, s.anchorFor(w))...)
	}

	res.WorkBounds = &bounds
	res.WorkIntervals = work
	if merged != nil {
		res.Busy = merged
	}
	return res, nil
}

func (s *Service) anchorFor(work domain.Interval) func(domain.Interval) time.Time {
	if s.defaults.Anchor == AnchorEpoch {
		epoch := time.Unix(0, 0).In(work.Start.Location())
		return func(domain.Interval) time.Time { return epoch }
	}
	return func(domain.Interval) time.Time { return work.Start }
}

func (s *Service) cacheKey(q Query) string {
	return fmt.Sprintf(
		"availability:v1:%d:%s:%s:%s:%d:%s",
		q.ClinicID, q.Date, optionalID(q.VetID), optionalID(q.RoomID), s.slotMinutes(q), s.defaults.fingerprint(),
	)
}

func (s *Service) cached(ctx context.Context, key string) (Result, bool) {
	if s.cache == nil {
		return Result{}, false
	}
	b, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("availability cache read failed", slog.Any("err", err), slog.String("key", key))
		}
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		s.log.Warn("availability cache entry unreadable", slog.Any("err", err), slog.String("key", key))
		return Result{}, false
	}
	return res, true
}

func (s *Service) store(ctx context.Context, key string, res Result) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		s.log.Warn("availability cache encode failed", slog.Any("err", err))
		return
	}
	if err := s.cache.Set(ctx, key, b, s.cacheTTL); err != nil {
		s.log.Warn("availability cache write failed", slog.Any("err", err), slog.String("key", key))
	}
}

func optionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func queryAttributes(q Query) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("clinic.id", q.ClinicID),
		attribute.String("availability.date", q.Date.String()),
	}
	if q.VetID != nil {
		attrs = append(attrs, attribute.Int64("vet.id", *q.VetID))
	}
	if q.RoomID != nil {
		attrs = append(attrs, attribute.Int64("room.id", *q.RoomID))
	}
	return attrs
}
