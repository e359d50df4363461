package domain

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) In(loc *time.Location) Interval {
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

// BusyInterval is time already committed to an appointment.
type BusyInterval struct {
	AppointmentID int64     `json:"appointment_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

func (b BusyInterval) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// MergeIntervals sorts by start and coalesces overlapping or touching intervals.
// The input slice is not modified.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, it := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !it.Start.After(last.End) {
			if it.End.After(last.End) {
				last.End = it.End
			}
			continue
		}
		merged = append(merged, it)
	}
	return merged
}

// Subtract returns the parts of work not covered by busy. busy must be sorted
// and non-overlapping, as returned by MergeIntervals.
func Subtract(work Interval, busy []Interval) []Interval {
	var free []Interval
	cursor := work.Start

	for _, b := range busy {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(work.End) {
			break
		}
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: minTime(b.Start, work.End)})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(work.End) {
			break
		}
	}

	if cursor.Before(work.End) {
		free = append(free, Interval{Start: cursor, End: work.End})
	}
	return free
}

// RoundUp moves t forward to the next multiple of step counted from anchor.
// Steps of a minute or less leave t unchanged.
func RoundUp(t, anchor time.Time, step time.Duration) time.Time {
	if step <= time.Minute {
		return t
	}
	offset := t.Sub(anchor)
	rem := offset % step
	if rem == 0 {
		return t
	}
	if rem < 0 {
		return t.Add(-rem)
	}
	return t.Add(step - rem)
}

// SplitIntoSlots cuts each free interval into consecutive slots of exactly
// slot length. Slot starts are aligned to the grid defined by anchorFor;
// partial trailing slots are dropped.
func SplitIntoSlots(free []Interval, slot time.Duration, anchorFor func(Interval) time.Time) []Interval {
	if slot <= 0 {
		return nil
	}

	var out []Interval
	for _, it := range free {
		start := RoundUp(it.Start, anchorFor(it), slot)
		for !start.Add(slot).After(it.End) {
			out = append(out, Interval{Start: start, End: start.Add(slot)})
			start = start.Add(slot)
		}
	}
	return out
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
