package availability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"vetclinic/backend/internal/domain"
	"vetclinic/backend/internal/store"
)

type fakeTx struct {
	mu    sync.Mutex
	calls []string

	holidayFn   func(ctx context.Context, clinicID int64, date civil.Date) (*domain.ClinicHoliday, error)
	exceptionFn func(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error)
	weeklyFn    func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error)
	busyFn      func(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error)
	roomsFn     func(ctx context.Context, clinicID int64) ([]domain.Room, error)
}

func (f *fakeTx) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeTx) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (f *fakeTx) ClinicHoliday(ctx context.Context, clinicID int64, date civil.Date) (*domain.ClinicHoliday, error) {
	f.record("ClinicHoliday")
	if f.holidayFn == nil {
		return nil, nil
	}
	return f.holidayFn(ctx, clinicID, date)
}

func (f *fakeTx) VetException(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error) {
	f.record("VetException")
	if f.exceptionFn == nil {
		return nil, nil
	}
	return f.exceptionFn(ctx, clinicID, vetID, date)
}

func (f *fakeTx) VetWorkingHours(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
	f.record("VetWorkingHours")
	if f.weeklyFn == nil {
		return nil, nil
	}
	return f.weeklyFn(ctx, vetID, weekday)
}

func (f *fakeTx) BusyAppointments(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
	f.record("BusyAppointments")
	if f.busyFn == nil {
		return nil, nil
	}
	return f.busyFn(ctx, q)
}

func (f *fakeTx) Rooms(ctx context.Context, clinicID int64) ([]domain.Room, error) {
	f.record("Rooms")
	if f.roomsFn == nil {
		return nil, nil
	}
	return f.roomsFn(ctx, clinicID)
}

type fakeRepo struct {
	tx  *fakeTx
	err error

	mu        sync.Mutex
	snapshots int
}

func (f *fakeRepo) InSnapshot(ctx context.Context, fn func(ctx context.Context, tx store.AvailabilityTx) error) error {
	f.mu.Lock()
	f.snapshots++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return fn(ctx, f.tx)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string][]byte{}
	}
	f.entries[key] = value
	f.sets++
	return nil
}

var monday = civil.Date{Year: 2026, Month: time.January, Day: 5}

func utcAt(hour, minute int) time.Time {
	return time.Date(2026, 1, 5, hour, minute, 0, 0, time.UTC)
}

func tod(hour, minute int) domain.TimeOfDay {
	return domain.NewTimeOfDay(hour, minute)
}

func todPtr(hour, minute int) *domain.TimeOfDay {
	t := tod(hour, minute)
	return &t
}

func int64Ptr(v int64) *int64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}

func newTestService(tx *fakeTx, opts ...Option) *Service {
	return NewService(&fakeRepo{tx: tx}, DefaultDefaults(), opts...)
}

func appointment(id int64, start, end time.Time) domain.Appointment {
	return domain.Appointment{
		ID:       id,
		ClinicID: 1,
		VetID:    7,
		StartsAt: start,
		EndsAt:   end,
		Status:   domain.AppointmentStatusScheduled,
	}
}

func assertSlot(t *testing.T, slot domain.Interval, start, end time.Time) {
	t.Helper()
	if !slot.Start.Equal(start) || !slot.End.Equal(end) {
		t.Fatalf("slot = %v-%v, want %v-%v", slot.Start, slot.End, start, end)
	}
}

func TestCompute_DefaultHoursWithoutBusyTime(t *testing.T) {
	tx := &fakeTx{}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.Closed() {
		t.Fatalf("expected open day, got closed reason %q", res.ClosedReason)
	}
	if res.HoursSource != "default" {
		t.Fatalf("hours_source = %q, want %q", res.HoursSource, "default")
	}
	if res.SlotMinutes != 30 {
		t.Fatalf("slot_minutes = %d, want 30", res.SlotMinutes)
	}
	if res.Timezone != "UTC" {
		t.Fatalf("timezone = %q, want UTC", res.Timezone)
	}
	assertSlot(t, *res.WorkBounds, utcAt(9, 0), utcAt(17, 0))
	if len(res.Free) != 16 {
		t.Fatalf("len(free) = %d, want 16", len(res.Free))
	}
	assertSlot(t, res.Free[0], utcAt(9, 0), utcAt(9, 30))
	assertSlot(t, res.Free[15], utcAt(16, 30), utcAt(17, 0))
	if tx.called("VetException") || tx.called("VetWorkingHours") {
		t.Fatalf("vet lookups must be skipped without a vet: %v", tx.calls)
	}
}

func TestCompute_SingleBusyBlock(t *testing.T) {
	tx := &fakeTx{
		busyFn: func(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
			return []domain.Appointment{appointment(11, utcAt(12, 0), utcAt(13, 0))}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if len(res.Free) != 14 {
		t.Fatalf("len(free) = %d, want 14", len(res.Free))
	}
	block := domain.Interval{Start: utcAt(12, 0), End: utcAt(13, 0)}
	for _, slot := range res.Free {
		if slot.Overlaps(block) {
			t.Fatalf("slot %v-%v overlaps busy block", slot.Start, slot.End)
		}
	}
	assertSlot(t, res.Free[5], utcAt(11, 30), utcAt(12, 0))
	assertSlot(t, res.Free[6], utcAt(13, 0), utcAt(13, 30))
	if len(res.Busy) != 1 || len(res.BusyRaw) != 1 || res.BusyRaw[0].AppointmentID != 11 {
		t.Fatalf("busy = %v, busy_raw = %v", res.Busy, res.BusyRaw)
	}
}

func TestCompute_HolidayOverridesVetData(t *testing.T) {
	tx := &fakeTx{
		holidayFn: func(ctx context.Context, clinicID int64, date civil.Date) (*domain.ClinicHoliday, error) {
			return &domain.ClinicHoliday{ClinicID: clinicID, Reason: "  New Year  ", IsActive: true}, nil
		},
		exceptionFn: func(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error) {
			return &domain.VetAvailabilityException{StartTime: todPtr(8, 0), EndTime: todPtr(10, 0)}, nil
		},
		weeklyFn: func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
			return []domain.VetWorkingHours{{StartTime: tod(8, 0), EndTime: tod(16, 0), IsActive: true}}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if !res.Closed() {
		t.Fatalf("expected closed day")
	}
	if res.ClosedReason != "New Year" {
		t.Fatalf("closed_reason = %q, want %q", res.ClosedReason, "New Year")
	}
	if len(res.Free) != 0 || len(res.Busy) != 0 {
		t.Fatalf("expected empty busy/free, got busy=%v free=%v", res.Busy, res.Free)
	}
	for _, name := range []string{"VetException", "VetWorkingHours", "BusyAppointments"} {
		if tx.called(name) {
			t.Fatalf("%s must not be called on a holiday", name)
		}
	}
}

func TestCompute_HolidayReasonDefaultAndInactiveHoliday(t *testing.T) {
	active := true
	tx := &fakeTx{
		holidayFn: func(ctx context.Context, clinicID int64, date civil.Date) (*domain.ClinicHoliday, error) {
			return &domain.ClinicHoliday{IsActive: active}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.ClosedReason != ReasonClinicClosed {
		t.Fatalf("closed_reason = %q, want %q", res.ClosedReason, ReasonClinicClosed)
	}

	active = false
	res, err = svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.Closed() {
		t.Fatalf("inactive holiday must not close the clinic, reason %q", res.ClosedReason)
	}
}

func TestCompute_DayOffBeatsWeeklyHours(t *testing.T) {
	tx := &fakeTx{
		exceptionFn: func(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error) {
			return &domain.VetAvailabilityException{IsDayOff: true, StartTime: todPtr(9, 0), EndTime: todPtr(12, 0)}, nil
		},
		weeklyFn: func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
			return []domain.VetWorkingHours{{StartTime: tod(8, 0), EndTime: tod(16, 0), IsActive: true}}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.WorkBounds != nil || len(res.Free) != 0 {
		t.Fatalf("expected closed result, got bounds=%v free=%d", res.WorkBounds, len(res.Free))
	}
	if res.ClosedReason != ReasonVetOff {
		t.Fatalf("closed_reason = %q, want %q", res.ClosedReason, ReasonVetOff)
	}
	if tx.called("VetWorkingHours") {
		t.Fatalf("weekly hours must not be consulted after a day off")
	}
}

func TestCompute_ExceptionCustomHours(t *testing.T) {
	tx := &fakeTx{
		exceptionFn: func(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error) {
			if clinicID != 1 || vetID != 7 || date != monday {
				t.Fatalf("unexpected lookup clinic=%d vet=%d date=%s", clinicID, vetID, date)
			}
			return &domain.VetAvailabilityException{StartTime: todPtr(10, 0), EndTime: todPtr(12, 0)}, nil
		},
		weeklyFn: func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
			return []domain.VetWorkingHours{{StartTime: tod(8, 0), EndTime: tod(16, 0), IsActive: true}}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.HoursSource != "exception" {
		t.Fatalf("hours_source = %q, want exception", res.HoursSource)
	}
	assertSlot(t, *res.WorkBounds, utcAt(10, 0), utcAt(12, 0))
	if len(res.Free) != 4 {
		t.Fatalf("len(free) = %d, want 4", len(res.Free))
	}
}

func TestCompute_ExceptionWithoutTimesFallsThroughToWeekly(t *testing.T) {
	tx := &fakeTx{
		exceptionFn: func(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error) {
			return &domain.VetAvailabilityException{Note: "marker only"}, nil
		},
		weeklyFn: func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
			if weekday != 0 {
				t.Fatalf("weekday = %d, want 0 (monday)", weekday)
			}
			return []domain.VetWorkingHours{{StartTime: tod(8, 0), EndTime: tod(12, 0), IsActive: true}}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.HoursSource != "weekly" {
		t.Fatalf("hours_source = %q, want weekly", res.HoursSource)
	}
	assertSlot(t, *res.WorkBounds, utcAt(8, 0), utcAt(12, 0))
}

func TestCompute_ExceptionWithOneTimeIsInvalid(t *testing.T) {
	tx := &fakeTx{
		exceptionFn: func(ctx context.Context, clinicID, vetID int64, date civil.Date) (*domain.VetAvailabilityException, error) {
			return &domain.VetAvailabilityException{StartTime: todPtr(10, 0)}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.ClosedReason != ReasonInvalidHours {
		t.Fatalf("closed_reason = %q, want %q", res.ClosedReason, ReasonInvalidHours)
	}
}

func TestCompute_WeeklyEarliestActiveRowWins(t *testing.T) {
	tx := &fakeTx{
		weeklyFn: func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
			return []domain.VetWorkingHours{
				{ID: 1, StartTime: tod(13, 0), EndTime: tod(17, 0), IsActive: true},
				{ID: 2, StartTime: tod(6, 0), EndTime: tod(7, 0), IsActive: false},
				{ID: 3, StartTime: tod(8, 0), EndTime: tod(12, 0), IsActive: true},
			}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	assertSlot(t, *res.WorkBounds, utcAt(8, 0), utcAt(12, 0))
	if len(res.WorkIntervals) != 1 {
		t.Fatalf("len(work_intervals) = %d, want 1", len(res.WorkIntervals))
	}
}

func TestCompute_MultiShiftKeepsLunchGap(t *testing.T) {
	tx := &fakeTx{
		weeklyFn: func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
			return []domain.VetWorkingHours{
				{ID: 1, StartTime: tod(13, 0), EndTime: tod(17, 0), IsActive: true},
				{ID: 2, StartTime: tod(8, 0), EndTime: tod(12, 0), IsActive: true},
			}, nil
		},
	}
	defaults := DefaultDefaults()
	defaults.MultiShift = true
	svc := NewService(&fakeRepo{tx: tx}, defaults)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	assertSlot(t, *res.WorkBounds, utcAt(8, 0), utcAt(17, 0))
	if len(res.WorkIntervals) != 2 {
		t.Fatalf("len(work_intervals) = %d, want 2", len(res.WorkIntervals))
	}
	if len(res.Free) != 16 {
		t.Fatalf("len(free) = %d, want 16", len(res.Free))
	}
	lunch := domain.Interval{Start: utcAt(12, 0), End: utcAt(13, 0)}
	for _, slot := range res.Free {
		if slot.Overlaps(lunch) {
			t.Fatalf("slot %v-%v falls into the lunch gap", slot.Start, slot.End)
		}
	}
}

func TestCompute_MisconfiguredWeeklyHours(t *testing.T) {
	tx := &fakeTx{
		weeklyFn: func(ctx context.Context, vetID int64, weekday int16) ([]domain.VetWorkingHours, error) {
			return []domain.VetWorkingHours{{StartTime: tod(17, 0), EndTime: tod(9, 0), IsActive: true}}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if !res.Closed() || res.ClosedReason != ReasonInvalidHours {
		t.Fatalf("closed_reason = %q, want %q", res.ClosedReason, ReasonInvalidHours)
	}
	if len(res.Free) != 0 {
		t.Fatalf("len(free) = %d, want 0", len(res.Free))
	}
	if tx.called("BusyAppointments") {
		t.Fatalf("busy lookup must be skipped for invalid hours")
	}
}

func TestCompute_BusyQueryFilters(t *testing.T) {
	var got store.BusyQuery
	tx := &fakeTx{
		busyFn: func(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
			got = q
			cancelled := appointment(2, utcAt(9, 0), utcAt(17, 0))
			cancelled.Status = domain.AppointmentStatusCancelled
			return []domain.Appointment{cancelled}, nil
		},
	}
	svc := newTestService(tx)

	res, err := svc.Compute(context.Background(), Query{ClinicID: 3, Date: monday, VetID: int64Ptr(7), RoomID: int64Ptr(9)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if got.ClinicID != 3 || got.VetID == nil || *got.VetID != 7 || got.RoomID == nil || *got.RoomID != 9 {
		t.Fatalf("busy query = %+v", got)
	}
	if !got.WindowStart.Equal(utcAt(9, 0)) || !got.WindowEnd.Equal(utcAt(17, 0)) {
		t.Fatalf("busy window = %v-%v, want 09:00-17:00", got.WindowStart, got.WindowEnd)
	}
	if len(res.Free) != 16 {
		t.Fatalf("cancelled appointment must not block slots, len(free) = %d", len(res.Free))
	}
}

func TestCompute_SlotMinutes(t *testing.T) {
	svc := newTestService(&fakeTx{})

	res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, SlotMinutes: intPtr(45)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.SlotMinutes != 45 || len(res.Free) != 10 {
		t.Fatalf("slot_minutes = %d len(free) = %d, want 45 and 10", res.SlotMinutes, len(res.Free))
	}
	for _, slot := range res.Free {
		if slot.Duration() != 45*time.Minute {
			t.Fatalf("slot duration = %v, want 45m", slot.Duration())
		}
	}

	res, err = svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, SlotMinutes: intPtr(0)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.SlotMinutes != 30 {
		t.Fatalf("slot_minutes = %d, want default 30", res.SlotMinutes)
	}
}

func TestCompute_SlotAnchor(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}

	defaults := DefaultDefaults()
	defaults.Location = loc
	defaults.CloseTime = tod(12, 0)

	window := NewService(&fakeRepo{tx: &fakeTx{}}, defaults)
	res, err := window.Compute(context.Background(), Query{ClinicID: 1, Date: monday, SlotMinutes: intPtr(60)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if res.Timezone != "Asia/Kolkata" {
		t.Fatalf("timezone = %q", res.Timezone)
	}
	if len(res.Free) != 3 || res.Free[0].Start.Hour() != 9 || res.Free[0].Start.Minute() != 0 {
		t.Fatalf("window anchored slots = %v", res.Free)
	}

	defaults.Anchor = AnchorEpoch
	epoch := NewService(&fakeRepo{tx: &fakeTx{}}, defaults)
	res, err = epoch.Compute(context.Background(), Query{ClinicID: 1, Date: monday, SlotMinutes: intPtr(60)})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if len(res.Free) != 2 || res.Free[0].Start.Hour() != 9 || res.Free[0].Start.Minute() != 30 {
		t.Fatalf("epoch anchored slots = %v", res.Free)
	}
}

func TestCompute_ValidationErrors(t *testing.T) {
	svc := newTestService(&fakeTx{})

	tests := []struct {
		name string
		q    Query
		want string
	}{
		{name: "clinic", q: Query{Date: monday}, want: "clinic_id must be positive"},
		{name: "date", q: Query{ClinicID: 1, Date: civil.Date{Year: 2026, Month: time.February, Day: 30}}, want: "date is invalid"},
		{name: "vet", q: Query{ClinicID: 1, Date: monday, VetID: int64Ptr(0)}, want: "vet_id must be positive"},
		{name: "room", q: Query{ClinicID: 1, Date: monday, RoomID: int64Ptr(-2)}, want: "room_id must be positive"},
		{name: "slot", q: Query{ClinicID: 1, Date: monday, SlotMinutes: intPtr(-5)}, want: "slot_minutes must be between 0 and 1440"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Compute(context.Background(), tt.q)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if vErr.Error() != tt.want {
				t.Fatalf("error = %q, want %q", vErr.Error(), tt.want)
			}
		})
	}
}

func TestCompute_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	tx := &fakeTx{
		busyFn: func(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
			return nil, boom
		},
	}
	svc := newTestService(tx)

	_, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}

	svc = NewService(&fakeRepo{tx: &fakeTx{}, err: boom}, DefaultDefaults())
	if _, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday}); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
}

func TestCompute_IsIdempotent(t *testing.T) {
	tx := &fakeTx{
		busyFn: func(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
			return []domain.Appointment{
				appointment(5, utcAt(10, 15), utcAt(11, 0)),
				appointment(4, utcAt(10, 0), utcAt(10, 30)),
			}, nil
		},
	}
	svc := newTestService(tx)
	q := Query{ClinicID: 1, Date: monday, VetID: int64Ptr(7)}

	first, err := svc.Compute(context.Background(), q)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	second, err := svc.Compute(context.Background(), q)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("results differ:\n%s\n%s", a, b)
	}
	if len(first.Busy) != 1 {
		t.Fatalf("busy = %v, want one merged interval", first.Busy)
	}
	assertSlot(t, first.Busy[0], utcAt(10, 0), utcAt(11, 0))
}

func TestCompute_ResultInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		var appts []domain.Appointment
		for i := 0; i < rng.Intn(8); i++ {
			start := utcAt(7, 0).Add(time.Duration(rng.Intn(144)) * 5 * time.Minute)
			end := start.Add(time.Duration(1+rng.Intn(24)) * 5 * time.Minute)
			appts = append(appts, appointment(int64(i+1), start, end))
		}
		slotMinutes := []int{5, 15, 20, 30, 45, 60}[rng.Intn(6)]

		svc := newTestService(&fakeTx{
			busyFn: func(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
				return appts, nil
			},
		})
		res, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, SlotMinutes: intPtr(slotMinutes)})
		if err != nil {
			t.Fatalf("Compute error: %v", err)
		}

		for i := 1; i < len(res.Busy); i++ {
			if !res.Busy[i-1].End.Before(res.Busy[i].Start) {
				t.Fatalf("iter %d: busy intervals overlap or touch: %v", iter, res.Busy)
			}
		}
		for i, slot := range res.Free {
			if slot.Duration() != time.Duration(slotMinutes)*time.Minute {
				t.Fatalf("iter %d: slot duration = %v, want %dm", iter, slot.Duration(), slotMinutes)
			}
			if !res.WorkBounds.Contains(slot) {
				t.Fatalf("iter %d: slot %v-%v outside work bounds", iter, slot.Start, slot.End)
			}
			for _, b := range res.Busy {
				if slot.Overlaps(b) {
					t.Fatalf("iter %d: slot %v-%v overlaps busy %v-%v", iter, slot.Start, slot.End, b.Start, b.End)
				}
			}
			if i > 0 && slot.Start.Before(res.Free[i-1].End) {
				t.Fatalf("iter %d: slots not ordered", iter)
			}
		}
	}
}

func TestCompute_UsesCache(t *testing.T) {
	cache := &fakeCache{}
	repo := &fakeRepo{tx: &fakeTx{}}
	svc := NewService(repo, DefaultDefaults(), WithCache(cache, time.Minute))
	q := Query{ClinicID: 1, Date: monday}

	first, err := svc.Compute(context.Background(), q)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	second, err := svc.Compute(context.Background(), q)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if repo.snapshots != 1 {
		t.Fatalf("snapshots = %d, want 1", repo.snapshots)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}
	if len(second.Free) != len(first.Free) || !second.WorkBounds.Start.Equal(first.WorkBounds.Start) {
		t.Fatalf("cached result differs: %+v vs %+v", second, first)
	}

	if _, err := svc.Compute(context.Background(), Query{ClinicID: 1, Date: monday, VetID: int64Ptr(2)}); err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if repo.snapshots != 2 {
		t.Fatalf("different query must miss the cache, snapshots = %d", repo.snapshots)
	}
}

func TestComputeRooms(t *testing.T) {
	tx := &fakeTx{
		roomsFn: func(ctx context.Context, clinicID int64) ([]domain.Room, error) {
			return []domain.Room{
				{ID: 20, ClinicID: clinicID, Name: "Surgery", DisplayOrder: 0, IsActive: true},
				{ID: 10, ClinicID: clinicID, Name: "Room 1", DisplayOrder: 1, IsActive: true},
			}, nil
		},
		busyFn: func(ctx context.Context, q store.BusyQuery) ([]domain.Appointment, error) {
			if q.RoomID == nil {
				t.Errorf("room filter missing")
				return nil, nil
			}
			if *q.RoomID == 20 {
				return []domain.Appointment{appointment(1, utcAt(9, 0), utcAt(17, 0))}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(tx, WithRoomsConcurrency(2))

	out, err := svc.ComputeRooms(context.Background(), RoomsQuery{ClinicID: 1, Date: monday})
	if err != nil {
		t.Fatalf("ComputeRooms error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].RoomID != 20 || out[0].RoomName != "Surgery" || len(out[0].Availability.Free) != 0 {
		t.Fatalf("room[0] = %+v", out[0])
	}
	if out[1].RoomID != 10 || len(out[1].Availability.Free) != 16 {
		t.Fatalf("room[1] = %d with %d free slots", out[1].RoomID, len(out[1].Availability.Free))
	}
	if out[1].Availability.RoomID == nil || *out[1].Availability.RoomID != 10 {
		t.Fatalf("room result carries room_id %v", out[1].Availability.RoomID)
	}
}

func TestComputeRooms_Validation(t *testing.T) {
	svc := newTestService(&fakeTx{})
	_, err := svc.ComputeRooms(context.Background(), RoomsQuery{Date: monday})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}
