package scheduling

import "time"

// Calendar supplies "now" and the clinic time zone used to decide which
// calendar day a timestamp belongs to.
type Calendar struct {
	Now      func() time.Time
	Location *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Now: time.Now, Location: loc}
}

func (c Calendar) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// StartOfDay returns midnight of t's calendar day in the clinic time zone.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(c.loc()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc())
}

// AddDays moves a start of day by n calendar days, staying on midnight
// across DST changes.
func (c Calendar) AddDays(day time.Time, n int) time.Time {
	return c.StartOfDay(day).AddDate(0, 0, n)
}

func (c Calendar) SameDay(a, b time.Time) bool {
	return c.StartOfDay(a).Equal(c.StartOfDay(b))
}

// DaysBetween counts whole calendar days from a's day to b's day.
func (c Calendar) DaysBetween(a, b time.Time) int {
	ay, am, ad := a.In(c.loc()).Date()
	by, bm, bd := b.In(c.loc()).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
