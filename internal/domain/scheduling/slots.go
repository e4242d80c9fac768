package scheduling

import (
	"time"
)

// SlotDuration is the fixed length of a bookable slot.
const SlotDuration = 30 * time.Minute

// MaxListPeriodDays bounds appointmentsForPeriod queries.
const MaxListPeriodDays = 30

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Days is the number of calendar days a period spans.
func (p Period) Days() (int, bool) {
	switch p {
	case PeriodDay:
		return 1, true
	case PeriodWeek:
		return 7, true
	case PeriodMonth:
		return 30, true
	}
	return 0, false
}

// OnSlotGrid reports whether t starts a slot: minute 0 or 30 with no
// seconds or sub-seconds.
func OnSlotGrid(t time.Time) bool {
	t = t.UTC()
	return t.Minute()%30 == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// BookedSet holds the start instants of booked slots, independent of the
// location the timestamps were read in.
type BookedSet map[int64]struct{}

func NewBookedSet(appts []Appointment) BookedSet {
	set := make(BookedSet, len(appts))
	for i := range appts {
		set.Add(appts[i].DatetimeOfAdmission)
	}
	return set
}

func (b BookedSet) Add(t time.Time) { b[t.UnixMilli()] = struct{}{} }

func (b BookedSet) Has(t time.Time) bool {
	_, ok := b[t.UnixMilli()]
	return ok
}

// FreeSlots steps from start in SlotDuration increments and returns every
// whole slot inside [start, end) that is not in booked. A trailing piece
// shorter than SlotDuration is never offered.
func FreeSlots(start, end time.Time, booked BookedSet) []time.Time {
	slots := []time.Time{}
	for cur := start.UTC(); !cur.Add(SlotDuration).After(end); cur = cur.Add(SlotDuration) {
		if booked.Has(cur) {
			continue
		}
		slots = append(slots, cur)
	}
	return slots
}

// Covers reports whether the whole slot starting at t lies inside the
// interval.
func (iv *WorkInterval) Covers(t time.Time) bool {
	return !t.Before(iv.StartTime) && !t.Add(SlotDuration).After(iv.EndTime)
}
