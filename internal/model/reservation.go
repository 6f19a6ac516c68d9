package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationStatusScheduled ReservationStatus = "scheduled"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// ActiveReservationStatuses are the statuses that occupy a practitioner's time.
var ActiveReservationStatuses = []ReservationStatus{
	ReservationStatusScheduled,
	ReservationStatusConfirmed,
}

// IsActive reports whether the status blocks the reserved interval.
func (s ReservationStatus) IsActive() bool {
	return s == ReservationStatusScheduled || s == ReservationStatusConfirmed
}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusScheduled, ReservationStatusConfirmed,
		ReservationStatusCompleted, ReservationStatusCancelled:
		return true
	}
	return false
}

// Reservation is one scheduled session between a client and a practitioner.
// ScheduledStart is a wall-clock time without zone; it is kept in UTC so
// that comparisons never shift it.
type Reservation struct {
	ID              string
	PractitionerID  string
	ClientID        string
	ScheduledStart  time.Time
	DurationMinutes int
	IsVirtual       bool
	AmountCents     int64
	Currency        string
	Status          ReservationStatus
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// End returns the exclusive end of the reserved interval.
func (r *Reservation) End() time.Time {
	return r.ScheduledStart.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// IsActive reports whether the reservation blocks its interval.
func (r *Reservation) IsActive() bool {
	return r.Status.IsActive()
}

// TimeSlot is a candidate start time on a given day.
type TimeSlot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}
