package quota

import (
	"fmt"
	"time"
)

// Period is a calendar-aligned counting window.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// periodOrder is the canonical iteration order for a record's periods.
var periodOrder = []Period{Daily, Weekly, Monthly}

func (p Period) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// PeriodStart returns the start of the calendar period containing t,
// evaluated in t's location. Weeks start on Sunday.
func PeriodStart(t time.Time, p Period) time.Time {
	y, m, d := t.Date()
	loc := t.Location()

	switch p {
	case Daily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Weekly:
		return time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, loc)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		panic(fmt.Sprintf("quota: unknown period %q", p))
	}
}

// NextReset returns the instant the period containing t rolls over.
func NextReset(t time.Time, p Period) time.Time {
	start := PeriodStart(t, p)
	switch p {
	case Daily:
		return start.AddDate(0, 0, 1)
	case Weekly:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// PeriodBoundaryCrossed reports whether lastReset lies in a calendar period
// strictly before the one containing now. Both instants are compared in now's
// location. A zero lastReset is always stale.
func PeriodBoundaryCrossed(lastReset time.Time, p Period, now time.Time) bool {
	if lastReset.IsZero() {
		return true
	}
	last := PeriodStart(lastReset.In(now.Location()), p)
	return last.Before(PeriodStart(now, p))
}
