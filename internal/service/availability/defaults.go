package availability

import (
	"fmt"
	"time"

	"vetclinic/backend/internal/domain"
)

// SlotAnchor selects the grid free slots are aligned to.
type SlotAnchor string

const (
	// AnchorWindow aligns slots to the start of each work interval.
	AnchorWindow SlotAnchor = "window"
	// AnchorEpoch aligns slots to multiples of the slot length since the Unix epoch.
	AnchorEpoch SlotAnchor = "epoch"
)

func ParseSlotAnchor(s string) (SlotAnchor, error) {
	switch SlotAnchor(s) {
	case AnchorWindow, AnchorEpoch:
		return SlotAnchor(s), nil
	case "":
		return AnchorWindow, nil
	default:
		return "", fmt.Errorf("unknown slot anchor %q", s)
	}
}

// Defaults are the deployment-wide values used when no vet-specific data applies.
type Defaults struct {
	OpenTime    domain.TimeOfDay
	CloseTime   domain.TimeOfDay
	SlotMinutes int
	Location    *time.Location
	Anchor      SlotAnchor
	// MultiShift treats every active weekly row of a weekday as a separate
	// shift instead of using only the earliest one.
	MultiShift bool
}

func DefaultDefaults() Defaults {
	return Defaults{
		OpenTime:    domain.NewTimeOfDay(9, 0),
		CloseTime:   domain.NewTimeOfDay(17, 0),
		SlotMinutes: 30,
		Location:    time.UTC,
		Anchor:      AnchorWindow,
	}
}

func (d Defaults) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

func (d Defaults) slotMinutes() int {
	if d.SlotMinutes < 1 {
		return 30
	}
	return d.SlotMinutes
}

func (d Defaults) fingerprint() string {
	return fmt.Sprintf("%s-%s-%s-%s-%t", d.OpenTime, d.CloseTime, d.location(), d.Anchor, d.MultiShift)
}
