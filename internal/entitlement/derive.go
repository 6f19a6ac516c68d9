package entitlement

import (
	"time"

	"github.com/floreser/floreser/internal/model"
)

// AccountSnapshot is the subset of an account that access derivation reads.
type AccountSnapshot struct {
	AccessLevel         model.AccessLevel
	SubscriptionStatus  model.SubscriptionStatus
	TrialEndDate        *time.Time
	SubscriptionEndDate *time.Time
}

// SnapshotOf extracts the derivation inputs from a user.
func SnapshotOf(u *model.User) AccountSnapshot {
	return AccountSnapshot{
		AccessLevel:         u.AccessLevel,
		SubscriptionStatus:  u.SubscriptionStatus,
		TrialEndDate:        u.TrialEndDate,
		SubscriptionEndDate: u.SubscriptionEndDate,
	}
}

// DeriveAccess computes the effective access level and subscription status
// at now. It is pure and idempotent: feeding the result back in yields the
// same result.
//
// An active trial wins over everything. An active paid subscription keeps a
// premium account at premium, or at unlimited when it was already there; a
// non-premium account with an open subscription window stays basic. When
// nothing is active the account drops to preview, and a lapsed trial or
// subscription is reported as expired.
func DeriveAccess(s AccountSnapshot, now time.Time) (model.AccessLevel, model.SubscriptionStatus) {
	if s.TrialEndDate != nil && now.Before(*s.TrialEndDate) {
		return model.AccessLevelBasic, model.SubscriptionStatusTrial
	}

	if s.SubscriptionEndDate != nil && now.Before(*s.SubscriptionEndDate) {
		if s.SubscriptionStatus == model.SubscriptionStatusPremium {
			if s.AccessLevel == model.AccessLevelUnlimited {
				return model.AccessLevelUnlimited, model.SubscriptionStatusPremium
			}
			return model.AccessLevelPremium, model.SubscriptionStatusPremium
		}
		return model.AccessLevelBasic, s.SubscriptionStatus
	}

	switch s.SubscriptionStatus {
	case model.SubscriptionStatusPremium, model.SubscriptionStatusTrial, model.SubscriptionStatusExpired:
		return model.AccessLevelPreview, model.SubscriptionStatusExpired
	}
	return model.AccessLevelPreview, model.SubscriptionStatusFree
}
