package availability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"vetclinic/backend/internal/domain"
	"vetclinic/backend/internal/store"
)

const (
	ReasonClinicClosed = "Clinic closed"
	ReasonVetOff       = "Vet is off"
	ReasonInvalidHours = "Invalid working-hours configuration"
)

type shift struct {
	open  domain.TimeOfDay
	close domain.TimeOfDay
}

// hours is the outcome of working-hours resolution for one date.
type hours struct {
	shifts []shift
	closed bool
	reason string
	source string
}

func closedHours(reason, source string) hours {
	return hours{closed: true, reason: reason, source: source}
}

// resolver returns ok=true when it decides the day's hours; later resolvers are skipped.
type resolver func(ctx context.Context, tx store.AvailabilityTx, q Query) (h hours, ok bool, err error)

func (s *Service) resolveHours(ctx context.Context, tx store.AvailabilityTx, q Query) (hours, error) {
	chain := []resolver{resolveHoliday, resolveException, s.resolveWeekly}
	for _, r := range chain {
		h, ok, err := r(ctx, tx, q)
		if err != nil {
			return hours{}, err
		}
		if ok {
			return h, nil
		}
	}
	return hours{
		shifts: []shift{{open: s.defaults.OpenTime, close: s.defaults.CloseTime}},
		source: "default",
	}, nil
}

func resolveHoliday(ctx context.Context, tx store.AvailabilityTx, q Query) (hours, bool, error) {
	holiday, err := tx.ClinicHoliday(ctx, q.ClinicID, q.Date)
	if err != nil {
		return hours{}, false, fmt.Errorf("clinic holiday lookup: %w", err)
	}
	if holiday == nil || !holiday.IsActive {
		return hours{}, false, nil
	}
	reason := strings.TrimSpace(holiday.Reason)
	if reason == "" {
		reason = ReasonClinicClosed
	}
	return closedHours(reason, "holiday"), true, nil
}

func resolveException(ctx context.Context, tx store.AvailabilityTx, q Query) (hours, bool, error) {
	if q.VetID == nil {
		return hours{}, false, nil
	}
	exc, err := tx.VetException(ctx, q.ClinicID, *q.VetID, q.Date)
	if err != nil {
		return hours{}, false, fmt.Errorf("vet exception lookup: %w", err)
	}
	switch {
	case exc == nil:
		return hours{}, false, nil
	case exc.IsDayOff:
		return closedHours(ReasonVetOff, "exception"), true, nil
	case exc.HasPartialHours():
		return closedHours(ReasonInvalidHours, "exception"), true, nil
	case exc.HasCustomHours():
		return hours{
			shifts: []shift{{open: *exc.StartTime, close: *exc.EndTime}},
			source: "exception",
		}, true, nil
	default:
		return hours{}, false, nil
	}
}

func (s *Service) resolveWeekly(ctx context.Context, tx store.AvailabilityTx, q Query) (hours, bool, error) {
	if q.VetID == nil {
		return hours{}, false, nil
	}
	rows, err := tx.VetWorkingHours(ctx, *q.VetID, domain.WeekdayIndex(q.Date))
	if err != nil {
		return hours{}, false, fmt.Errorf("vet working hours lookup: %w", err)
	}

	active := make([]domain.VetWorkingHours, 0, len(rows))
	for _, row := range rows {
		if row.IsActive {
			active = append(active, row)
		}
	}
	if len(active) == 0 {
		return hours{}, false, nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].StartTime.Before(active[j].StartTime)
	})
	if !s.defaults.MultiShift {
		active = active[:1]
	}

	shifts := make([]shift, 0, len(active))
	for _, row := range active {
		shifts = append(shifts, shift{open: row.StartTime, close: row.EndTime})
	}
	return hours{shifts: shifts, source: "weekly"}, true, nil
}

// workIntervals places the shifts on date in loc. ok is false when any
// shift does not end after it starts.
func (h hours) workIntervals(date civil.Date, loc *time.Location) ([]domain.Interval, bool) {
	out := make([]domain.Interval, 0, len(h.shifts))
	for _, sh := range h.shifts {
		if !sh.open.Before(sh.close) {
			return nil, false
		}
		start := sh.open.On(date, loc)
		end := sh.close.On(date, loc)
		if !end.After(start) {
			return nil, false
		}
		out = append(out, domain.Interval{Start: start, End: end})
	}
	if len(out) == 0 {
		return nil, false
	}
	return domain.MergeIntervals(out), true
}
