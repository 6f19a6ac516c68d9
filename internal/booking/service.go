// Package booking orchestrates reservations: availability queries,
// conflict-free creation, and status transitions.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/floreser/floreser/internal/availability"
	"github.com/floreser/floreser/internal/entitlement"
	"github.com/floreser/floreser/internal/model"
	"github.com/floreser/floreser/internal/notification"
	"github.com/floreser/floreser/internal/repository"
	"github.com/floreser/floreser/internal/security"
)

// notifyTimeout bounds a post-commit notification dispatch.
const notifyTimeout = 5 * time.Second

// PermissionChecker decides entitlement questions. *entitlement.Engine
// satisfies it.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID string, perm entitlement.Permission) (entitlement.Decision, error)
}

// Recorder receives booking metrics. *metrics.Collector satisfies it.
type Recorder interface {
	RecordBookingCreated()
	RecordBookingConflict()
	RecordStatusTransition(from, to string)
	RecordNotificationFailure(eventType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBookingCreated()                 {}
func (nopRecorder) RecordBookingConflict()                {}
func (nopRecorder) RecordStatusTransition(string, string) {}
func (nopRecorder) RecordNotificationFailure(string)      {}

// TransitionPolicy decides whether actorID may change the status of r.
// practitioner is the profile r belongs to; it is nil when the profile no
// longer exists.
type TransitionPolicy func(actorID string, r *model.Reservation, practitioner *model.Practitioner) bool

// ParticipantsOnly allows the reservation's client and the user owning its
// practitioner profile.
func ParticipantsOnly(actorID string, r *model.Reservation, practitioner *model.Practitioner) bool {
	if actorID == "" {
		return false
	}
	if r.ClientID == actorID {
		return true
	}
	return practitioner != nil && practitioner.UserID == actorID
}

// allowedTransitions lists the permitted status changes. Completed and
// cancelled are terminal.
var allowedTransitions = map[model.ReservationStatus][]model.ReservationStatus{
	model.ReservationStatusScheduled: {
		model.ReservationStatusConfirmed,
		model.ReservationStatusCompleted,
		model.ReservationStatusCancelled,
	},
	model.ReservationStatusConfirmed: {
		model.ReservationStatusCompleted,
		model.ReservationStatusCancelled,
	},
}

// CanTransition reports whether a reservation may move from one status to
// another.
func CanTransition(from, to model.ReservationStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithTransitionPolicy replaces ParticipantsOnly for status changes.
func WithTransitionPolicy(p TransitionPolicy) Option {
	return func(s *Service) { s.canTransition = p }
}

// WithWindow replaces the default operating window.
func WithWindow(w availability.Window) Option {
	return func(s *Service) { s.window = w }
}

// WithIDGenerator replaces uuid.NewString for reservation IDs.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// Service is the booking service.
type Service struct {
	reservations  repository.ReservationRepository
	practitioners repository.PractitionerRepository
	checker       PermissionChecker
	dispatcher    notification.Dispatcher
	sanitizer     security.NotesSanitizer

	logger        *zap.Logger
	metrics       Recorder
	canTransition TransitionPolicy
	window        availability.Window
	now           func() time.Time
	newID         func() string
}

// NewService creates a Service. dispatcher may be nil to disable
// notifications.
func NewService(
	reservations repository.ReservationRepository,
	practitioners repository.PractitionerRepository,
	checker PermissionChecker,
	dispatcher notification.Dispatcher,
	opts ...Option,
) *Service {
	s := &Service{
		reservations:  reservations,
		practitioners: practitioners,
		checker:       checker,
		dispatcher:    dispatcher,
		sanitizer:     security.NewNotesSanitizer(),
		logger:        zap.L(),
		metrics:       nopRecorder{},
		canTransition: ParticipantsOnly,
		window:        availability.DefaultWindow,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// today returns midnight of the current day on the server's wall clock.
func (s *Service) today() time.Time {
	return availability.Day(availability.Naive(s.now()))
}

// activePractitioner returns the practitioner or a not-found error when it
// does not exist or does not take bookings.
func (s *Service) activePractitioner(ctx context.Context, id string) (*model.Practitioner, error) {
	p, err := s.practitioners.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load practitioner: %w", err)
	}
	if p == nil || !p.IsActive {
		return nil, model.NewPractitionerNotFoundError(id)
	}
	return p, nil
}

// GetAvailableSlots returns the candidate start times of the practitioner on
// date for a session of durationMinutes. date may be any day from today on.
func (s *Service) GetAvailableSlots(ctx context.Context, practitionerID string, date time.Time, durationMinutes int) ([]model.TimeSlot, error) {
	if !availability.ValidDuration(durationMinutes) {
		return nil, model.NewInvalidDurationError(durationMinutes)
	}
	day := availability.Day(date)
	if day.Before(s.today()) {
		return nil, model.NewInvalidDateError("date is in the past")
	}
	if _, err := s.activePractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}

	return s.slotsFor(ctx, practitionerID, day, durationMinutes)
}

func (s *Service) slotsFor(ctx context.Context, practitionerID string, day time.Time, durationMinutes int) ([]model.TimeSlot, error) {
	from, to := availability.Bounds(day)
	existing, err := s.reservations.ListActiveForPractitionerBetween(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return s.window.Slots(day, durationMinutes, existing), nil
}

// CreateReservationInput is a client's booking request.
type CreateReservationInput struct {
	PractitionerID  string
	ScheduledStart  time.Time
	DurationMinutes int
	IsVirtual       bool
	AmountCents     int64
	Currency        string
	Notes           string
}

// validate normalizes the input in place.
func (s *Service) validate(in *CreateReservationInput) error {
	if in.PractitionerID == "" {
		return model.NewValidationError("practitioner_id is required.")
	}
	if !availability.ValidDuration(in.DurationMinutes) {
		return model.NewInvalidDurationError(in.DurationMinutes)
	}

	in.ScheduledStart = availability.Naive(in.ScheduledStart)
	if !in.ScheduledStart.After(availability.Naive(s.now())) {
		return model.NewInvalidDateError("the session must start in the future")
	}
	if !s.window.Contains(in.ScheduledStart, in.DurationMinutes) {
		return model.NewValidationError("The session must start and end within operating hours.")
	}

	if in.AmountCents < 0 {
		return model.NewValidationError("amount must not be negative.")
	}
	in.Currency = strings.ToLower(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "usd"
	}
	if len(in.Currency) != 3 {
		return model.NewValidationError("currency must be a three-letter ISO code.")
	}

	in.Notes = s.sanitizer.Sanitize(in.Notes)
	if security.NotesTooLong(in.Notes) {
		return model.NewValidationError(fmt.Sprintf("notes must be at most %d characters.", security.MaxNotesLength))
	}
	return nil
}

// CreateReservation books a session for clientID. The overlap check and the
// insert run atomically in the repository; on a collision the returned
// BookingConflictError carries the colliding reservations and the current
// availability of that day. The call is not retried.
func (s *Service) CreateReservation(ctx context.Context, clientID string, in CreateReservationInput) (*model.Reservation, error) {
	// 1. Input
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	// 2. Practitioner
	p, err := s.activePractitioner(ctx, in.PractitionerID)
	if err != nil {
		return nil, err
	}
	if p.UserID == clientID {
		return nil, model.NewValidationError("Practitioners cannot book their own sessions.")
	}

	// 3. Entitlement
	decision, err := s.checker.HasPermission(ctx, clientID, entitlement.PermBookSessions)
	if err != nil {
		return nil, err
	}
	if err := decision.Err(); err != nil {
		return nil, err
	}

	// 4. Check and insert under the practitioner lock
	now := s.now()
	r := &model.Reservation{
		ID:              s.newID(),
		PractitionerID:  p.ID,
		ClientID:        clientID,
		ScheduledStart:  in.ScheduledStart,
		DurationMinutes: in.DurationMinutes,
		IsVirtual:       in.IsVirtual,
		AmountCents:     in.AmountCents,
		Currency:        in.Currency,
		Status:          model.ReservationStatusScheduled,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	conflicts, err := s.reservations.CreateIfNoConflict(ctx, r)
	if errors.Is(err, repository.ErrPractitionerNotFound) {
		return nil, model.NewPractitionerNotFoundError(in.PractitionerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	// 5. Conflict
	if len(conflicts) > 0 {
		s.metrics.RecordBookingConflict()
		slots, err := s.slotsFor(ctx, p.ID, availability.Day(in.ScheduledStart), in.DurationMinutes)
		if err != nil {
			return nil, err
		}
		return nil, &model.BookingConflictError{Conflicts: conflicts, Availability: slots}
	}

	// 6. Committed
	s.metrics.RecordBookingCreated()
	s.logger.Info("reservation created",
		zap.String("reservation_id", r.ID),
		zap.String("practitioner_id", r.PractitionerID),
		zap.String("client_id", r.ClientID),
		zap.Time("scheduled_start", r.ScheduledStart),
		zap.Int("duration_minutes", r.DurationMinutes),
	)
	s.notify(ctx, notification.NewEvent(notification.EventReservationCreated, r, "", now))

	return r, nil
}

// UpdateReservationStatus moves a reservation to newStatus on behalf of
// actorID. The write only succeeds if the status did not change since it
// was read.
func (s *Service) UpdateReservationStatus(ctx context.Context, reservationID string, newStatus model.ReservationStatus, actorID string) (*model.Reservation, error) {
	if !newStatus.Valid() {
		return nil, model.NewInvalidStatusError(string(newStatus))
	}

	r, p, err := s.loadWithPractitioner(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !s.canTransition(actorID, r, p) {
		return nil, model.NewForbiddenError("You cannot change this reservation.")
	}
	if !CanTransition(r.Status, newStatus) {
		return nil, model.NewInvalidTransitionError(r.Status, newStatus)
	}

	previous := r.Status
	updated, err := s.reservations.UpdateStatus(ctx, r.ID, previous, newStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	if !updated {
		// lost a race; report against the status that won
		current, err := s.reservations.FindByID(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload reservation: %w", err)
		}
		if current == nil {
			return nil, model.NewReservationNotFoundError(r.ID)
		}
		return nil, model.NewInvalidTransitionError(current.Status, newStatus)
	}

	now := s.now()
	r.Status = newStatus
	r.UpdatedAt = now

	s.metrics.RecordStatusTransition(string(previous), string(newStatus))
	s.logger.Info("reservation status changed",
		zap.String("reservation_id", r.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
		zap.String("actor_id", actorID),
	)
	s.notify(ctx, notification.NewEvent(notification.EventReservationStatusChanged, r, previous, now))

	return r, nil
}

// GetReservation returns a reservation to one of its participants.
func (s *Service) GetReservation(ctx context.Context, reservationID, actorID string) (*model.Reservation, error) {
	r, p, err := s.loadWithPractitioner(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !ParticipantsOnly(actorID, r, p) {
		return nil, model.NewForbiddenError("You cannot view this reservation.")
	}
	return r, nil
}

// ListReservations returns the reservations actorID takes part in, as client
// or as practitioner, newest first.
func (s *Service) ListReservations(ctx context.Context, actorID string) ([]model.Reservation, error) {
	list, err := s.reservations.ListByParticipant(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	if list == nil {
		list = []model.Reservation{}
	}
	return list, nil
}

func (s *Service) loadWithPractitioner(ctx context.Context, reservationID string) (*model.Reservation, *model.Practitioner, error) {
	r, err := s.reservations.FindByID(ctx, reservationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if r == nil {
		return nil, nil, model.NewReservationNotFoundError(reservationID)
	}
	p, err := s.practitioners.FindByID(ctx, r.PractitionerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load practitioner: %w", err)
	}
	return r, p, nil
}

// notify dispatches an event after commit. Failures are logged and counted
// but never returned: the reservation change already happened.
func (s *Service) notify(ctx context.Context, event notification.Event) {
	if s.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.metrics.RecordNotificationFailure(event.Type)
		s.logger.Warn("notification dispatch failed",
			zap.String("type", event.Type),
			zap.String("reservation_id", event.ReservationID),
			zap.Error(err),
		)
	}
}
