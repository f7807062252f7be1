// Package reminder holds the pure scheduling rules for medication reminders:
// time-of-day arithmetic, due matching, quiet hours, and the daily schedule view.
package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidTime occurs when a time of day is not HH:mm
	ErrInvalidTime = errors.New("invalid time of day")
	// ErrInvalidWeekday occurs when a weekday set is empty or outside 0..6
	ErrInvalidWeekday = errors.New("invalid weekday set")
)

// MinutesPerDay in a wall-clock day
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time as minutes since midnight (0..1439)
type TimeOfDay int

// ParseTimeOfDay parses "HH:mm"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q (expected HH:mm)", ErrInvalidTime, s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q has an invalid hour", ErrInvalidTime, s)
	}

	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q has an invalid minute", ErrInvalidTime, s)
	}

	return TimeOfDay(h*60 + m), nil
}

// Of returns the wall-clock time of t, truncated to the minute
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// Add minutes, wrapping around midnight
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	v := (int(t) + minutes) % MinutesPerDay
	if v < 0 {
		v += MinutesPerDay
	}

	return TimeOfDay(v)
}

// Distance is the shortest distance in minutes between two times, across midnight
func (t TimeOfDay) Distance(o TimeOfDay) int {
	d := int(t) - int(o)
	if d < 0 {
		d = -d
	}

	if d > MinutesPerDay/2 {
		d = MinutesPerDay - d
	}

	return d
}

// String formats as HH:mm
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Localized formats for display, e.g. "8 AM" or "7:30 PM"
func (t TimeOfDay) Localized() string {
	h, m := int(t)/60, int(t)%60

	period := "AM"
	if h >= 12 {
		period = "PM"
	}

	h %= 12
	if h == 0 {
		h = 12
	}

	if m == 0 {
		return fmt.Sprintf("%d %s", h, period)
	}

	return fmt.Sprintf("%d:%02d %s", h, m, period)
}

// On returns the instant of this time of day on the calendar day of date in loc
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = date.Location()
	}

	y, mo, d := date.In(loc).Date()

	return time.Date(y, mo, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// StartOfDay returns midnight of the day of t in t's location
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ValidateDays checks a weekday set: non-empty, values 0 (Sunday) through 6, no repeats
func ValidateDays(days []int) error {
	if len(days) == 0 {
		return fmt.Errorf("%w: no weekdays", ErrInvalidWeekday)
	}

	var seen [7]bool
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: %d is outside 0..6", ErrInvalidWeekday, d)
		}

		if seen[d] {
			return fmt.Errorf("%w: %d repeated", ErrInvalidWeekday, d)
		}

		seen[d] = true
	}

	return nil
}

// ParseDays parses a comma separated weekday list such as "1,2,3,4,5"
func ParseDays(s string) ([]int, error) {
	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, part)
		}

		days = append(days, d)
	}

	if err := ValidateDays(days); err != nil {
		return nil, err
	}

	return days, nil
}
