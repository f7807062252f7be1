package reminder

import (
	"time"

	"git.0xdad.com/tblyler/meditime/db"
)

// Tolerance is how far, in minutes, a reminder's time may sit from now and still be due
const Tolerance = 1

// Occurrence is one scheduled instance of a reminder
type Occurrence struct {
	Reminder *db.Reminder
	At       time.Time
}

// Due returns the occurrences of active reminders in snapshot that lie within
// Tolerance minutes of now. The tolerance reaches across midnight, so the
// weekday checked is the occurrence's own, not now's. now must already be in
// the reminders' wall-clock location.
func Due(snapshot []*db.Reminder, now time.Time) []Occurrence {
	current := Of(now)

	var due []Occurrence
	for _, r := range snapshot {
		if !r.IsActive {
			continue
		}

		at, err := ParseTimeOfDay(r.Time)
		if err != nil || at.Distance(current) > Tolerance {
			continue
		}

		day := now
		switch diff := int(at) - int(current); {
		case diff > MinutesPerDay/2:
			day = now.AddDate(0, 0, -1)
		case diff < -MinutesPerDay/2:
			day = now.AddDate(0, 0, 1)
		}

		occurrence := at.On(day, now.Location())
		if !r.OnDay(occurrence.Weekday()) {
			continue
		}

		due = append(due, Occurrence{Reminder: r, At: occurrence})
	}

	return due
}

// At returns the active reminders of snapshot scheduled exactly at t on day
func At(snapshot []*db.Reminder, t TimeOfDay, day time.Weekday) []*db.Reminder {
	var matched []*db.Reminder
	for _, r := range snapshot {
		if !r.IsActive || !r.OnDay(day) {
			continue
		}

		at, err := ParseTimeOfDay(r.Time)
		if err != nil || at != t {
			continue
		}

		matched = append(matched, r)
	}

	return matched
}

// QuietHours is a daily do-not-disturb window [Start, End). A window whose
// start is after its end wraps midnight.
type QuietHours struct {
	Start TimeOfDay
	End   TimeOfDay
	set   bool
}

// ParseQuietHours builds a window from HH:mm strings. If either is empty the
// window is disabled.
func ParseQuietHours(start, end string) (QuietHours, error) {
	if start == "" || end == "" {
		return QuietHours{}, nil
	}

	s, err := ParseTimeOfDay(start)
	if err != nil {
		return QuietHours{}, err
	}

	e, err := ParseTimeOfDay(end)
	if err != nil {
		return QuietHours{}, err
	}

	return QuietHours{Start: s, End: e, set: true}, nil
}

// Enabled reports whether the window suppresses anything at all
func (q QuietHours) Enabled() bool {
	return q.set && q.Start != q.End
}

// Contains reports whether now's wall-clock time falls inside the window
func (q QuietHours) Contains(now time.Time) bool {
	if !q.Enabled() {
		return false
	}

	t := Of(now)
	if q.Start < q.End {
		return t >= q.Start && t < q.End
	}

	return t >= q.Start || t < q.End
}
