package booking

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/floreser/floreser/internal/availability"
	"github.com/floreser/floreser/internal/entitlement"
	"github.com/floreser/floreser/internal/model"
	"github.com/floreser/floreser/internal/notification"
	"github.com/floreser/floreser/internal/repository"
)

// now is Wednesday 2025-01-15 08:00; tomorrow is bookable.
var now = time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

func tomorrowAt(hour, min int) time.Time {
	return time.Date(2025, 1, 16, hour, min, 0, 0, time.UTC)
}

// memReservationRepo mirrors PostgresReservationRepo: CreateIfNoConflict
// checks and inserts under one lock.
type memReservationRepo struct {
	mu    sync.Mutex
	items map[string]model.Reservation
	// owners maps practitioner ID to owning user ID for ListByParticipant.
	owners    map[string]string
	createErr error
}

func newMemReservationRepo() *memReservationRepo {
	return &memReservationRepo{items: map[string]model.Reservation{}, owners: map[string]string{}}
}

func (m *memReservationRepo) FindByID(_ context.Context, id string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memReservationRepo) activeBetween(practitionerID string, from, to time.Time) []model.Reservation {
	var out []model.Reservation
	for _, r := range m.items {
		if r.PractitionerID == practitionerID && r.IsActive() && availability.Overlaps(from, to, r.ScheduledStart, r.End()) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.Before(out[j].ScheduledStart) })
	return out
}

func (m *memReservationRepo) ListActiveForPractitionerBetween(_ context.Context, practitionerID string, from, to time.Time) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeBetween(practitionerID, from, to), nil
}

func (m *memReservationRepo) ListByParticipant(_ context.Context, userID string) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for _, r := range m.items {
		if r.ClientID == userID || m.owners[r.PractitionerID] == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.After(out[j].ScheduledStart) })
	return out, nil
}

func (m *memReservationRepo) CountByClientSince(_ context.Context, clientID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.items {
		if r.ClientID == clientID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memReservationRepo) CreateIfNoConflict(_ context.Context, r *model.Reservation) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if conflicts := m.activeBetween(r.PractitionerID, r.ScheduledStart, r.End()); len(conflicts) > 0 {
		return conflicts, nil
	}
	m.items[r.ID] = *r
	return nil, nil
}

func (m *memReservationRepo) UpdateStatus(_ context.Context, id string, from, to model.ReservationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	m.items[id] = r
	return true, nil
}

func (m *memReservationRepo) snapshot() map[string]model.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.items)
}

func (m *memReservationRepo) put(r model.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[r.ID] = r
}

type mockPractitionerRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Practitioner, error)
}

func (m *mockPractitionerRepo) FindByID(ctx context.Context, id string) (*model.Practitioner, error) {
	return m.findByIDFn(ctx, id)
}

type mockChecker struct {
	decide func(userID string, perm entitlement.Permission) entitlement.Decision
	err    error
}

func (m *mockChecker) HasPermission(_ context.Context, userID string, perm entitlement.Permission) (entitlement.Decision, error) {
	if m.err != nil {
		return entitlement.Decision{}, m.err
	}
	if m.decide == nil {
		return entitlement.Decision{Allowed: true, Permission: perm, Unlimited: true}, nil
	}
	return m.decide(userID, perm), nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (m *mockDispatcher) Dispatch(_ context.Context, e notification.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

type countingRecorder struct {
	created, conflicts, failures, transitions atomic.Int64
}

func (c *countingRecorder) RecordBookingCreated()                 { c.created.Add(1) }
func (c *countingRecorder) RecordBookingConflict()                { c.conflicts.Add(1) }
func (c *countingRecorder) RecordStatusTransition(string, string) { c.transitions.Add(1) }
func (c *countingRecorder) RecordNotificationFailure(string)      { c.failures.Add(1) }

const (
	practitionerID     = "p-1"
	practitionerUserID = "u-practitioner"
	clientID           = "u-client"
	otherClientID      = "u-other"
)

type fixture struct {
	svc        *Service
	repo       *memReservationRepo
	checker    *mockChecker
	dispatcher *mockDispatcher
	recorder   *countingRecorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := newMemReservationRepo()
	repo.owners[practitionerID] = practitionerUserID
	practitioners := &mockPractitionerRepo{findByIDFn: func(_ context.Context, id string) (*model.Practitioner, error) {
		switch id {
		case practitionerID:
			return &model.Practitioner{ID: practitionerID, UserID: practitionerUserID, IsActive: true}, nil
		case "p-inactive":
			return &model.Practitioner{ID: "p-inactive", UserID: "u-x", IsActive: false}, nil
		}
		return nil, nil
	}}
	f := &fixture{
		repo:       repo,
		checker:    &mockChecker{},
		dispatcher: &mockDispatcher{},
		recorder:   &countingRecorder{},
	}
	seq := atomic.Int64{}
	base := []Option{
		WithClock(func() time.Time { return now }),
		WithLogger(zap.NewNop()),
		WithRecorder(f.recorder),
		WithIDGenerator(func() string { return fmt.Sprintf("r-%d", seq.Add(1)) }),
	}
	f.svc = NewService(repo, practitioners, f.checker, f.dispatcher, append(base, opts...)...)
	return f
}

func input(start time.Time, minutes int) CreateReservationInput {
	return CreateReservationInput{
		PractitionerID:  practitionerID,
		ScheduledStart:  start,
		DurationMinutes: minutes,
		AmountCents:     6000,
		Currency:        "USD",
	}
}

func apiCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	return apiErr.Code
}

func TestGetAvailableSlots(t *testing.T) {
	f := newFixture(t)
	f.repo.put(model.Reservation{
		ID: "existing", PractitionerID: practitionerID, ClientID: otherClientID,
		ScheduledStart: tomorrowAt(10, 0), DurationMinutes: 60, Status: model.ReservationStatusScheduled,
	})

	slots, err := f.svc.GetAvailableSlots(context.Background(), practitionerID, tomorrowAt(0, 0), 60)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(slots) != 15 {
		t.Fatalf("len(slots) = %d, want 15", len(slots))
	}
	got := map[string]bool{}
	for _, s := range slots {
		got[s.Time] = s.Available
	}
	if !got["09:00"] || got["09:30"] || got["10:00"] || got["10:30"] || !got["11:00"] {
		t.Errorf("slots = %+v", slots)
	}
}

func TestGetAvailableSlots_TodayAllowed(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.GetAvailableSlots(context.Background(), practitionerID, now, 30); err != nil {
		t.Fatalf("today rejected: %v", err)
	}
}

func TestGetAvailableSlots_Errors(t *testing.T) {
	tests := []struct {
		name     string
		pid      string
		date     time.Time
		duration int
		want     string
	}{
		{"past date", practitionerID, now.AddDate(0, 0, -1), 60, model.ErrCodeInvalidDate},
		{"bad duration", practitionerID, tomorrowAt(0, 0), 45, model.ErrCodeInvalidDuration},
		{"unknown practitioner", "p-none", tomorrowAt(0, 0), 60, model.ErrCodePractitionerNotFound},
		{"inactive practitioner", "p-inactive", tomorrowAt(0, 0), 60, model.ErrCodePractitionerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.GetAvailableSlots(context.Background(), tt.pid, tt.date, tt.duration)
			if code := apiCode(t, err); code != tt.want {
				t.Errorf("code = %s, want %s", code, tt.want)
			}
		})
	}
}

func TestCreateReservation_Success(t *testing.T) {
	f := newFixture(t)
	in := input(tomorrowAt(10, 0), 60)
	in.Notes = "<b>first</b> session"

	r, err := f.svc.CreateReservation(context.Background(), clientID, in)
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if r.Status != model.ReservationStatusScheduled {
		t.Errorf("Status = %s, want scheduled", r.Status)
	}
	if r.Notes != "first session" {
		t.Errorf("Notes = %q, want sanitized", r.Notes)
	}
	if r.Currency != "usd" {
		t.Errorf("Currency = %q, want usd", r.Currency)
	}
	if f.recorder.created.Load() != 1 {
		t.Error("booking not counted")
	}
	if len(f.dispatcher.events) != 1 || f.dispatcher.events[0].Type != notification.EventReservationCreated {
		t.Errorf("events = %+v", f.dispatcher.events)
	}

	slots, err := f.svc.GetAvailableSlots(context.Background(), practitionerID, tomorrowAt(0, 0), 60)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	for _, s := range slots {
		if s.Time == "10:00" && s.Available {
			t.Error("booked slot still available")
		}
	}
}

func TestCreateReservation_Validation(t *testing.T) {
	long := make([]byte, 2001)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name   string
		client string
		mutate func(*CreateReservationInput)
		want   string
	}{
		{"bad duration", clientID, func(in *CreateReservationInput) { in.DurationMinutes = 45 }, model.ErrCodeInvalidDuration},
		{"past start", clientID, func(in *CreateReservationInput) { in.ScheduledStart = now.Add(-time.Hour) }, model.ErrCodeInvalidDate},
		{"before opening", clientID, func(in *CreateReservationInput) { in.ScheduledStart = tomorrowAt(8, 30) }, model.ErrCodeValidation},
		{"ends after closing", clientID, func(in *CreateReservationInput) { in.ScheduledStart = tomorrowAt(16, 30) }, model.ErrCodeValidation},
		{"negative amount", clientID, func(in *CreateReservationInput) { in.AmountCents = -1 }, model.ErrCodeValidation},
		{"bad currency", clientID, func(in *CreateReservationInput) { in.Currency = "dollars" }, model.ErrCodeValidation},
		{"notes too long", clientID, func(in *CreateReservationInput) { in.Notes = string(long) }, model.ErrCodeValidation},
		{"missing practitioner", clientID, func(in *CreateReservationInput) { in.PractitionerID = "" }, model.ErrCodeValidation},
		{"unknown practitioner", clientID, func(in *CreateReservationInput) { in.PractitionerID = "p-none" }, model.ErrCodePractitionerNotFound},
		{"self booking", practitionerUserID, func(in *CreateReservationInput) {}, model.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := input(tomorrowAt(10, 0), 60)
			tt.mutate(&in)
			_, err := f.svc.CreateReservation(context.Background(), tt.client, in)
			if code := apiCode(t, err); code != tt.want {
				t.Errorf("code = %s, want %s", code, tt.want)
			}
			if len(f.repo.items) != 0 {
				t.Error("invalid request stored a reservation")
			}
		})
	}
}

func TestCreateReservation_EntitlementDenied(t *testing.T) {
	f := newFixture(t)
	f.checker.decide = func(_ string, perm entitlement.Permission) entitlement.Decision {
		return entitlement.Decision{
			Permission:    perm,
			Level:         model.AccessLevelBasic,
			Limit:         1,
			Used:          1,
			RequiredLevel: model.AccessLevelPremium,
			Reason:        "limit reached",
		}
	}

	_, err := f.svc.CreateReservation(context.Background(), clientID, input(tomorrowAt(10, 0), 60))
	var denied *model.EntitlementDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want EntitlementDeniedError", err)
	}
	if denied.Permission != string(entitlement.PermBookSessions) || denied.Limit != 1 {
		t.Errorf("denied = %+v", denied)
	}
	if len(f.repo.items) != 0 {
		t.Error("denied request stored a reservation")
	}
}

func TestCreateReservation_CheckerErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.checker.err = errors.New("db down")

	if _, err := f.svc.CreateReservation(context.Background(), clientID, input(tomorrowAt(10, 0), 60)); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateReservation_ConflictCarriesAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateReservation(ctx, clientID, input(tomorrowAt(10, 0), 60))
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	_, err = f.svc.CreateReservation(ctx, otherClientID, input(tomorrowAt(10, 30), 30))
	var conflict *model.BookingConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want BookingConflictError", err)
	}
	if len(conflict.Conflicts) != 1 || conflict.Conflicts[0].ID != first.ID {
		t.Errorf("conflicts = %+v", conflict.Conflicts)
	}
	if len(conflict.Availability) != 16 {
		t.Fatalf("availability len = %d, want 16", len(conflict.Availability))
	}
	for _, s := range conflict.Availability {
		blocked := s.Time == "10:00" || s.Time == "10:30"
		if s.Available == blocked {
			t.Errorf("slot %s available = %v", s.Time, s.Available)
		}
	}
	if f.recorder.conflicts.Load() != 1 {
		t.Error("conflict not counted")
	}
}

func TestCreateReservation_CancelledDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.repo.put(model.Reservation{
		ID: "old", PractitionerID: practitionerID, ClientID: otherClientID,
		ScheduledStart: tomorrowAt(10, 0), DurationMinutes: 60, Status: model.ReservationStatusCancelled,
	})

	if _, err := f.svc.CreateReservation(context.Background(), clientID, input(tomorrowAt(10, 0), 60)); err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
}

func TestCreateReservation_RepositoryPractitionerGone(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = repository.ErrPractitionerNotFound

	_, err := f.svc.CreateReservation(context.Background(), clientID, input(tomorrowAt(10, 0), 60))
	if code := apiCode(t, err); code != model.ErrCodePractitionerNotFound {
		t.Errorf("code = %s", code)
	}
}

// Concurrent requests for overlapping intervals: exactly one succeeds.
func TestCreateReservation_ConcurrentOverlapExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var wg sync.WaitGroup
	var succeeded, conflicted atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := tomorrowAt(10, 0)
			if i%2 == 1 {
				start = tomorrowAt(10, 30)
			}
			_, err := f.svc.CreateReservation(context.Background(), fmt.Sprintf("client-%d", i), input(start, 60))
			var conflict *model.BookingConflictError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &conflict):
				conflicted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded.Load())
	}
	if conflicted.Load() != n-1 {
		t.Errorf("conflicted = %d, want %d", conflicted.Load(), n-1)
	}
}

func TestCreateReservation_NotificationFailureSwallowed(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("redis down")

	r, err := f.svc.CreateReservation(context.Background(), clientID, input(tomorrowAt(10, 0), 60))
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if stored, _ := f.repo.FindByID(context.Background(), r.ID); stored == nil {
		t.Error("reservation not stored")
	}
	if f.recorder.failures.Load() != 1 {
		t.Error("notification failure not counted")
	}
}

func TestCreateReservation_NilDispatcher(t *testing.T) {
	repo := newMemReservationRepo()
	practitioners := &mockPractitionerRepo{findByIDFn: func(context.Context, string) (*model.Practitioner, error) {
		return &model.Practitioner{ID: practitionerID, UserID: practitionerUserID, IsActive: true}, nil
	}}
	svc := NewService(repo, practitioners, &mockChecker{}, nil, WithClock(func() time.Time { return now }), WithLogger(zap.NewNop()))

	if _, err := svc.CreateReservation(context.Background(), clientID, input(tomorrowAt(10, 0), 60)); err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	all := []model.ReservationStatus{
		model.ReservationStatusScheduled, model.ReservationStatusConfirmed,
		model.ReservationStatusCompleted, model.ReservationStatusCancelled,
	}
	allowed := map[[2]model.ReservationStatus]bool{
		{model.ReservationStatusScheduled, model.ReservationStatusConfirmed}: true,
		{model.ReservationStatusScheduled, model.ReservationStatusCompleted}: true,
		{model.ReservationStatusScheduled, model.ReservationStatusCancelled}: true,
		{model.ReservationStatusConfirmed, model.ReservationStatusCompleted}: true,
		{model.ReservationStatusConfirmed, model.ReservationStatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]model.ReservationStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func seedScheduled(f *fixture, id string) {
	f.repo.put(model.Reservation{
		ID: id, PractitionerID: practitionerID, ClientID: clientID,
		ScheduledStart: tomorrowAt(10, 0), DurationMinutes: 60, Status: model.ReservationStatusScheduled,
	})
}

func TestUpdateReservationStatus(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		to    model.ReservationStatus
	}{
		{"client cancels", clientID, model.ReservationStatusCancelled},
		{"practitioner completes", practitionerUserID, model.ReservationStatusCompleted},
		{"practitioner confirms", practitionerUserID, model.ReservationStatusConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seedScheduled(f, "r-x")

			r, err := f.svc.UpdateReservationStatus(context.Background(), "r-x", tt.to, tt.actor)
			if err != nil {
				t.Fatalf("UpdateReservationStatus: %v", err)
			}
			if r.Status != tt.to {
				t.Errorf("Status = %s, want %s", r.Status, tt.to)
			}
			stored, _ := f.repo.FindByID(context.Background(), "r-x")
			if stored.Status != tt.to {
				t.Errorf("stored Status = %s, want %s", stored.Status, tt.to)
			}
			if len(f.dispatcher.events) != 1 || f.dispatcher.events[0].PreviousStatus != model.ReservationStatusScheduled {
				t.Errorf("events = %+v", f.dispatcher.events)
			}
		})
	}
}

func TestUpdateReservationStatus_TerminalRejected(t *testing.T) {
	f := newFixture(t)
	seedScheduled(f, "r-x")
	ctx := context.Background()

	if _, err := f.svc.UpdateReservationStatus(ctx, "r-x", model.ReservationStatusCancelled, clientID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, to := range []model.ReservationStatus{
		model.ReservationStatusScheduled, model.ReservationStatusConfirmed, model.ReservationStatusCompleted,
	} {
		_, err := f.svc.UpdateReservationStatus(ctx, "r-x", to, clientID)
		if code := apiCode(t, err); code != model.ErrCodeInvalidTransition {
			t.Errorf("cancelled -> %s code = %s, want %s", to, code, model.ErrCodeInvalidTransition)
		}
	}
}

func TestUpdateReservationStatus_Errors(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		to    model.ReservationStatus
		actor string
		want  string
	}{
		{"unknown status", "r-x", "archived", clientID, model.ErrCodeInvalidStatus},
		{"unknown reservation", "r-none", model.ReservationStatusCancelled, clientID, model.ErrCodeReservationNotFound},
		{"stranger", "r-x", model.ReservationStatusCancelled, otherClientID, model.ErrCodeForbidden},
		{"anonymous", "r-x", model.ReservationStatusCancelled, "", model.ErrCodeForbidden},
		{"same status", "r-x", model.ReservationStatusScheduled, clientID, model.ErrCodeInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seedScheduled(f, "r-x")
			_, err := f.svc.UpdateReservationStatus(context.Background(), tt.id, tt.to, tt.actor)
			if code := apiCode(t, err); code != tt.want {
				t.Errorf("code = %s, want %s", code, tt.want)
			}
		})
	}
}

func TestUpdateReservationStatus_CustomPolicy(t *testing.T) {
	adminOnly := func(actorID string, _ *model.Reservation, _ *model.Practitioner) bool {
		return actorID == "admin"
	}
	f := newFixture(t, WithTransitionPolicy(adminOnly))
	seedScheduled(f, "r-x")
	ctx := context.Background()

	_, err := f.svc.UpdateReservationStatus(ctx, "r-x", model.ReservationStatusCancelled, clientID)
	if code := apiCode(t, err); code != model.ErrCodeForbidden {
		t.Errorf("client code = %s, want FORBIDDEN", code)
	}
	if _, err := f.svc.UpdateReservationStatus(ctx, "r-x", model.ReservationStatusCancelled, "admin"); err != nil {
		t.Errorf("admin: %v", err)
	}
}

// Two racing transitions out of scheduled: exactly one wins, the other sees
// an invalid transition from the winner's status.
func TestUpdateReservationStatus_ConcurrentTransitions(t *testing.T) {
	f := newFixture(t)
	seedScheduled(f, "r-x")

	targets := []model.ReservationStatus{model.ReservationStatusCompleted, model.ReservationStatusCancelled}
	var wg sync.WaitGroup
	var ok, invalid atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(to model.ReservationStatus) {
			defer wg.Done()
			_, err := f.svc.UpdateReservationStatus(context.Background(), "r-x", to, clientID)
			var apiErr *model.APIError
			switch {
			case err == nil:
				ok.Add(1)
			case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidTransition:
				invalid.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(targets[i%2])
	}
	wg.Wait()

	if ok.Load() != 1 {
		t.Errorf("successful transitions = %d, want 1", ok.Load())
	}
	if invalid.Load() != 9 {
		t.Errorf("rejected transitions = %d, want 9", invalid.Load())
	}
}

func TestGetReservation(t *testing.T) {
	f := newFixture(t)
	seedScheduled(f, "r-x")
	ctx := context.Background()

	for _, actor := range []string{clientID, practitionerUserID} {
		if _, err := f.svc.GetReservation(ctx, "r-x", actor); err != nil {
			t.Errorf("GetReservation as %s: %v", actor, err)
		}
	}
	_, err := f.svc.GetReservation(ctx, "r-x", otherClientID)
	if code := apiCode(t, err); code != model.ErrCodeForbidden {
		t.Errorf("stranger code = %s", code)
	}
	_, err = f.svc.GetReservation(ctx, "r-none", clientID)
	if code := apiCode(t, err); code != model.ErrCodeReservationNotFound {
		t.Errorf("missing code = %s", code)
	}
}

func TestListReservations(t *testing.T) {
	f := newFixture(t)
	seedScheduled(f, "r-x")
	ctx := context.Background()

	for _, actor := range []string{clientID, practitionerUserID} {
		list, err := f.svc.ListReservations(ctx, actor)
		if err != nil {
			t.Fatalf("ListReservations: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("%s sees %d reservations, want 1", actor, len(list))
		}
	}

	list, err := f.svc.ListReservations(ctx, otherClientID)
	if err != nil {
		t.Fatalf("ListReservations: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("stranger list = %v, want empty non-nil", list)
	}
}

// A 09:30 request for 60 minutes runs into an existing 10:00-11:00 session.
func TestCreateReservation_OverlapsExistingSession(t *testing.T) {
	f := newFixture(t)
	f.repo.put(model.Reservation{
		ID: "existing", PractitionerID: practitionerID, ClientID: otherClientID,
		ScheduledStart: tomorrowAt(10, 0), DurationMinutes: 60, Status: model.ReservationStatusScheduled,
	})

	_, err := f.svc.CreateReservation(context.Background(), clientID, input(tomorrowAt(9, 30), 60))
	if code := apiCode(t, err); code != model.ErrCodeBookingConflict {
		t.Errorf("code = %s, want %s", code, model.ErrCodeBookingConflict)
	}
	if len(f.repo.items) != 1 {
		t.Errorf("stored %d reservations, want 1", len(f.repo.items))
	}
}

// slotStart turns a slot's HH:MM label into a start time on day.
func slotStart(t *testing.T, day time.Time, label string) time.Time {
	t.Helper()
	var h, m int
	if _, err := fmt.Sscanf(label, "%d:%d", &h, &m); err != nil {
		t.Fatalf("slot label %q: %v", label, err)
	}
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func assertNoOverlap(t *testing.T, items map[string]model.Reservation) {
	t.Helper()
	var active []model.Reservation
	for _, r := range items {
		if r.IsActive() {
			active = append(active, r)
		}
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.PractitionerID != b.PractitionerID {
				continue
			}
			if availability.Overlaps(a.ScheduledStart, a.End(), b.ScheduledStart, b.End()) {
				t.Fatalf("active reservations overlap: %s [%v, %v) and %s [%v, %v)",
					a.ID, a.ScheduledStart, a.End(), b.ID, b.ScheduledStart, b.End())
			}
		}
	}
}

// Random sequences of bookings and status changes. After every step active
// reservations never overlap, a rejected call leaves the store untouched, and
// a booking succeeds exactly when its slot was reported available.
func TestService_RandomSequences(t *testing.T) {
	const (
		sequences = 200
		steps     = 30
	)
	days := []time.Time{tomorrowAt(0, 0), tomorrowAt(0, 0).AddDate(0, 0, 1)}
	durations := []int{30, 60, 90, 120}
	clients := []string{clientID, otherClientID}
	statuses := []model.ReservationStatus{
		model.ReservationStatusScheduled,
		model.ReservationStatusConfirmed,
		model.ReservationStatusCompleted,
		model.ReservationStatusCancelled,
	}
	ctx := context.Background()

	for seed := int64(1); seed <= sequences; seed++ {
		rng := rand.New(rand.NewSource(seed))
		f := newFixture(t)

		for step := 0; step < steps; step++ {
			before := f.repo.snapshot()

			if len(before) > 0 && rng.Intn(4) == 0 {
				ids := make([]string, 0, len(before))
				for id := range before {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				r := before[ids[rng.Intn(len(ids))]]
				to := statuses[rng.Intn(len(statuses))]

				_, err := f.svc.UpdateReservationStatus(ctx, r.ID, to, r.ClientID)
				switch {
				case CanTransition(r.Status, to) && err != nil:
					t.Fatalf("seed %d step %d: %s -> %s: %v", seed, step, r.Status, to, err)
				case !CanTransition(r.Status, to) && err == nil:
					t.Fatalf("seed %d step %d: %s -> %s accepted", seed, step, r.Status, to)
				}
				if err != nil && !reflect.DeepEqual(before, f.repo.snapshot()) {
					t.Fatalf("seed %d step %d: rejected transition changed the store", seed, step)
				}
				assertNoOverlap(t, f.repo.snapshot())
				continue
			}

			day := days[rng.Intn(len(days))]
			minutes := durations[rng.Intn(len(durations))]
			slots, err := f.svc.GetAvailableSlots(ctx, practitionerID, day, minutes)
			if err != nil {
				t.Fatalf("seed %d step %d: GetAvailableSlots: %v", seed, step, err)
			}
			slot := slots[rng.Intn(len(slots))]
			in := input(slotStart(t, day, slot.Time), minutes)
			invalid := rng.Intn(10) == 0
			if invalid {
				in.DurationMinutes = 45
			}

			_, err = f.svc.CreateReservation(ctx, clients[rng.Intn(len(clients))], in)
			var conflict *model.BookingConflictError
			switch {
			case invalid:
				if code := apiCode(t, err); code != model.ErrCodeInvalidDuration {
					t.Fatalf("seed %d step %d: code = %s, want %s", seed, step, code, model.ErrCodeInvalidDuration)
				}
			case slot.Available && err != nil:
				t.Fatalf("seed %d step %d: available slot %s/%d rejected: %v", seed, step, slot.Time, minutes, err)
			case !slot.Available && !errors.As(err, &conflict):
				t.Fatalf("seed %d step %d: unavailable slot %s/%d: err = %v, want BookingConflictError", seed, step, slot.Time, minutes, err)
			}
			if err != nil && !reflect.DeepEqual(before, f.repo.snapshot()) {
				t.Fatalf("seed %d step %d: rejected booking changed the store", seed, step)
			}
			assertNoOverlap(t, f.repo.snapshot())
		}
	}
}
