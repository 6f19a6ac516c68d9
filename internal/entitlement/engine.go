package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/floreser/floreser/internal/model"
	"github.com/floreser/floreser/internal/repository"
)

// FacilitatorSeedsMultiplier is the seeds bonus practitioners receive.
const FacilitatorSeedsMultiplier = 2.0

// UsageCounter counts how often a user consumed a permission since the
// start of the current window.
type UsageCounter interface {
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// UsageCounterFunc adapts a function to UsageCounter.
type UsageCounterFunc func(ctx context.Context, userID string, since time.Time) (int, error)

// CountSince calls f.
func (f UsageCounterFunc) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return f(ctx, userID, since)
}

// Meter binds a numeric permission to its counter and window.
type Meter struct {
	Counter     UsageCounter
	WindowStart func(now time.Time) time.Time
}

// MonthStart returns midnight on the first day of now's calendar month.
func MonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// DenialRecorder observes denied permission checks.
type DenialRecorder interface {
	RecordEntitlementDenied(permission string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDenialRecorder reports every denied check to r.
func WithDenialRecorder(r DenialRecorder) Option {
	return func(e *Engine) { e.denials = r }
}

// Engine evaluates permissions against a Policy and keeps the stored access
// fields of accounts in line with DeriveAccess.
type Engine struct {
	policy  *Policy
	users   repository.UserRepository
	meters  map[Permission]Meter
	now     func() time.Time
	denials DenialRecorder
}

// NewEngine creates an Engine. Every permission the policy limits
// numerically must have a meter.
func NewEngine(policy *Policy, users repository.UserRepository, meters map[Permission]Meter, opts ...Option) (*Engine, error) {
	if policy == nil {
		return nil, errors.New("entitlement: policy is required")
	}
	if users == nil {
		return nil, errors.New("entitlement: user repository is required")
	}
	m := make(map[Permission]Meter, len(meters))
	for perm, meter := range meters {
		if meter.Counter == nil {
			return nil, fmt.Errorf("entitlement: meter for %q has no counter", perm)
		}
		if meter.WindowStart == nil {
			meter.WindowStart = MonthStart
		}
		m[perm] = meter
	}
	for _, perm := range policy.NumericPermissions() {
		if _, ok := m[perm]; !ok {
			return nil, fmt.Errorf("entitlement: permission %q is limited but has no usage counter", perm)
		}
	}

	e := &Engine{
		policy: policy,
		users:  users,
		meters: m,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Refresh loads the account, derives its current access and persists the
// result when it differs from what is stored.
func (e *Engine) Refresh(ctx context.Context, userID string) (*model.User, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	level, status := DeriveAccess(SnapshotOf(user), e.now())
	if level == user.AccessLevel && status == user.SubscriptionStatus {
		return user, nil
	}

	if err := e.users.UpdateAccess(ctx, user.ID, level, status); err != nil {
		return nil, fmt.Errorf("failed to persist derived access: %w", err)
	}
	user.AccessLevel = level
	user.SubscriptionStatus = status
	return user, nil
}

// Decision is the outcome of one permission check.
type Decision struct {
	Allowed       bool              `json:"allowed"`
	Permission    Permission        `json:"permission"`
	Level         model.AccessLevel `json:"access_level"`
	Reason        string            `json:"reason,omitempty"`
	RequiredLevel model.AccessLevel `json:"required_level,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	Used          int               `json:"used,omitempty"`
	Unlimited     bool              `json:"unlimited,omitempty"`
}

// Err returns nil for an allowed decision and an EntitlementDeniedError
// otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &model.EntitlementDeniedError{
		Permission:    string(d.Permission),
		AccessLevel:   d.Level,
		RequiredLevel: d.RequiredLevel,
		Limit:         d.Limit,
		Used:          d.Used,
		Message:       d.Reason,
	}
}

// HasPermission decides whether the user may use perm right now. Unknown
// permissions are denied. Errors are reserved for storage failures and
// missing accounts.
func (e *Engine) HasPermission(ctx context.Context, userID string, perm Permission) (Decision, error) {
	user, err := e.Refresh(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	d, err := e.decide(ctx, user, perm)
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed && e.denials != nil {
		e.denials.RecordEntitlementDenied(string(perm))
	}
	return d, nil
}

func (e *Engine) decide(ctx context.Context, user *model.User, perm Permission) (Decision, error) {
	d := Decision{Permission: perm, Level: user.AccessLevel}

	v, ok := e.policy.Lookup(user.AccessLevel, perm)
	if !ok {
		d.Reason = fmt.Sprintf("Unknown permission %q.", perm)
		return d, nil
	}

	switch v.kind {
	case kindAllow:
		d.Allowed = true
	case kindUnlimited:
		d.Allowed = true
		d.Unlimited = true
	case kindDeny:
		d.RequiredLevel = e.policy.UnlockingLevel(user.AccessLevel, perm)
		if d.RequiredLevel != "" {
			d.Reason = fmt.Sprintf("%s requires %s access or higher.", perm, d.RequiredLevel)
		} else {
			d.Reason = fmt.Sprintf("%s is not available.", perm)
		}
	case kindLimit:
		meter := e.meters[perm]
		used, err := meter.Counter.CountSince(ctx, user.ID, meter.WindowStart(e.now()))
		if err != nil {
			return Decision{}, fmt.Errorf("failed to count usage of %s: %w", perm, err)
		}
		d.Limit = v.limit
		d.Used = used
		if used < v.limit {
			d.Allowed = true
			break
		}
		d.RequiredLevel = e.policy.UnlockingLevel(user.AccessLevel, perm)
		d.Reason = fmt.Sprintf("You have reached your limit of %d for %s this period.", v.limit, perm)
	}
	return d, nil
}

// StartFreeTrial begins a trial of the given length and returns its end.
// An account gets at most one trial in its lifetime.
func (e *Engine) StartFreeTrial(ctx context.Context, userID string, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, model.NewValidationError("Trial length must be at least one day.")
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return time.Time{}, model.NewUserNotFoundError()
	}
	if user.TrialEndDate != nil {
		return time.Time{}, model.NewTrialAlreadyUsedError()
	}

	end := e.now().AddDate(0, 0, days)
	if err := e.users.StartTrial(ctx, userID, end); err != nil {
		if errors.Is(err, repository.ErrTrialAlreadyStarted) {
			return time.Time{}, model.NewTrialAlreadyUsedError()
		}
		return time.Time{}, fmt.Errorf("failed to start trial: %w", err)
	}
	return end, nil
}

// Bonus is the extra perks of an account beyond its tier.
type Bonus struct {
	SeedsMultiplier float64 `json:"seeds_multiplier"`
	PrioritySupport bool    `json:"priority_support"`
	FeaturedContent bool    `json:"featured_content"`
}

// Info is the entitlement snapshot of one account.
type Info struct {
	UserID              string                   `json:"user_id"`
	AccessLevel         model.AccessLevel        `json:"access_level"`
	SubscriptionStatus  model.SubscriptionStatus `json:"subscription_status"`
	TrialEndDate        *time.Time               `json:"trial_end_date"`
	SubscriptionEndDate *time.Time               `json:"subscription_end_date"`
	Permissions         map[Permission]Value     `json:"permissions"`
	CanStartTrial       bool                     `json:"can_start_trial"`
	Bonus               Bonus                    `json:"bonus"`
}

// Info refreshes the account and returns its entitlement snapshot.
// Practitioners get the facilitator bonus.
func (e *Engine) Info(ctx context.Context, userID string) (*Info, error) {
	user, err := e.Refresh(ctx, userID)
	if err != nil {
		return nil, err
	}

	bonus := Bonus{SeedsMultiplier: 1.0}
	if user.IsPractitioner() {
		bonus = Bonus{
			SeedsMultiplier: FacilitatorSeedsMultiplier,
			PrioritySupport: true,
			FeaturedContent: true,
		}
	}

	return &Info{
		UserID:              user.ID,
		AccessLevel:         user.AccessLevel,
		SubscriptionStatus:  user.SubscriptionStatus,
		TrialEndDate:        user.TrialEndDate,
		SubscriptionEndDate: user.SubscriptionEndDate,
		Permissions:         e.policy.Permissions(user.AccessLevel),
		CanStartTrial:       user.TrialEndDate == nil,
		Bonus:               bonus,
	}, nil
}
