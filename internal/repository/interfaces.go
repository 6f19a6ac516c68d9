// Package repository defines the persistence interfaces and their PostgreSQL
// implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/floreser/floreser/internal/model"
)

// ErrTrialAlreadyStarted is returned by UserRepository.StartTrial when the
// account already has a trial end date.
var ErrTrialAlreadyStarted = errors.New("trial already started")

// ErrPractitionerNotFound is returned by ReservationRepository.CreateIfNoConflict
// when the referenced practitioner row does not exist.
var ErrPractitionerNotFound = errors.New("practitioner not found")

// UserRepository persists accounts and their access fields.
type UserRepository interface {
	// FindByID returns the user with the given ID, or nil when none exists.
	FindByID(ctx context.Context, id string) (*model.User, error)

	// UpdateAccess stores a newly derived access level and subscription status.
	UpdateAccess(ctx context.Context, id string, level model.AccessLevel, status model.SubscriptionStatus) error

	// StartTrial sets the trial end date together with the basic level and
	// trial status, but only when no trial end date was ever set.
	// Returns ErrTrialAlreadyStarted otherwise.
	StartTrial(ctx context.Context, id string, trialEnd time.Time) error
}

// PractitionerRepository reads practitioner profiles.
type PractitionerRepository interface {
	// FindByID returns the practitioner, or nil when none exists.
	FindByID(ctx context.Context, id string) (*model.Practitioner, error)
}

// SessionRepository persists login sessions.
type SessionRepository interface {
	// FindByID returns the session, or nil when it does not exist or has expired.
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteExpired removes sessions that expired before the given time and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ReservationRepository persists reservations.
type ReservationRepository interface {
	// FindByID returns the reservation, or nil when none exists.
	FindByID(ctx context.Context, id string) (*model.Reservation, error)

	// ListActiveForPractitionerBetween returns the practitioner's scheduled or
	// confirmed reservations that intersect [from, to), ordered by start.
	ListActiveForPractitionerBetween(ctx context.Context, practitionerID string, from, to time.Time) ([]model.Reservation, error)

	// ListByParticipant returns the reservations where the user is the client
	// or owns the practitioner profile, newest start first.
	ListByParticipant(ctx context.Context, userID string) ([]model.Reservation, error)

	// CountByClientSince counts the reservations the client created at or
	// after since, in any status.
	CountByClientSince(ctx context.Context, clientID string, since time.Time) (int, error)

	// CreateIfNoConflict inserts the reservation unless an active reservation
	// of the same practitioner overlaps it. The check and the insert happen in
	// one transaction holding a lock on the practitioner row. On overlap the
	// colliding reservations are returned and nothing is written.
	CreateIfNoConflict(ctx context.Context, reservation *model.Reservation) ([]model.Reservation, error)

	// UpdateStatus moves the reservation from one status to another. It
	// returns false when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to model.ReservationStatus) (bool, error)
}
