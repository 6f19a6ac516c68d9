// Package availability computes open time slots for a practitioner and
// detects overlaps between reservations.
//
// All functions are pure: they work on reservation lists handed in by the
// caller and never touch storage. Times are wall-clock values without a
// zone; callers pass them in UTC.
package availability

import (
	"time"

	"github.com/floreser/floreser/internal/model"
)

// AllowedDurations lists the bookable session lengths in minutes.
var AllowedDurations = []int{30, 60, 90}

// ValidDuration reports whether minutes is a bookable session length.
func ValidDuration(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

// Window is the daily operating window in which sessions can start and end.
// Open and Close are offsets from midnight.
type Window struct {
	Open  time.Duration
	Close time.Duration
	Step  time.Duration
}

// DefaultWindow is 09:00-17:00 with 30 minute granularity.
var DefaultWindow = Window{
	Open:  9 * time.Hour,
	Close: 17 * time.Hour,
	Step:  30 * time.Minute,
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Day truncates t to midnight of its calendar day, keeping the wall clock.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Naive drops the zone of t while keeping its wall-clock reading.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Bounds returns the half-open interval [start, end) covering the calendar day of date.
func Bounds(date time.Time) (time.Time, time.Time) {
	start := Day(date)
	return start, start.AddDate(0, 0, 1)
}

// Slots returns the candidate start times of the default window for date.
func Slots(date time.Time, durationMinutes int, existing []model.Reservation) []model.TimeSlot {
	return DefaultWindow.Slots(date, durationMinutes, existing)
}

// Slots generates candidates every Step from Open up to the last start whose
// session still ends by Close. A candidate is unavailable when it overlaps any
// active reservation in existing. The result is ordered by time and is empty
// when the duration does not fit in the window at all.
func (w Window) Slots(date time.Time, durationMinutes int, existing []model.Reservation) []model.TimeSlot {
	slots := []model.TimeSlot{}
	if durationMinutes <= 0 || w.Step <= 0 {
		return slots
	}

	day := Day(date)
	length := time.Duration(durationMinutes) * time.Minute
	closeAt := day.Add(w.Close)

	for start := day.Add(w.Open); !start.Add(length).After(closeAt); start = start.Add(w.Step) {
		end := start.Add(length)
		slots = append(slots, model.TimeSlot{
			Time:      start.Format("15:04"),
			Available: !overlapsAny(existing, start, end),
		})
	}
	return slots
}

// Contains reports whether a session of durationMinutes starting at start
// lies inside the window of its day.
func (w Window) Contains(start time.Time, durationMinutes int) bool {
	day := Day(start)
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	return !start.Before(day.Add(w.Open)) && !end.After(day.Add(w.Close))
}

// Conflicts returns the active reservations in existing that overlap a
// session of durationMinutes starting at start. It uses the same predicate
// as Slots, so a slot reported available never conflicts.
func Conflicts(existing []model.Reservation, start time.Time, durationMinutes int) []model.Reservation {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	var conflicts []model.Reservation
	for _, r := range existing {
		if !r.IsActive() {
			continue
		}
		if Overlaps(start, end, r.ScheduledStart, r.End()) {
			conflicts = append(conflicts, r)
		}
	}
	return conflicts
}

func overlapsAny(existing []model.Reservation, start, end time.Time) bool {
	for i := range existing {
		r := &existing[i]
		if r.IsActive() && Overlaps(start, end, r.ScheduledStart, r.End()) {
			return true
		}
	}
	return false
}
