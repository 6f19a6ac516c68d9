// Package model defines the domain models.
package model

import "time"

// Role is the platform role of an account.
type Role string

const (
	// RoleClient books sessions with practitioners.
	RoleClient Role = "client"
	// RolePractitioner offers sessions ("facilitator").
	RolePractitioner Role = "practitioner"
	// RoleAdmin operates the platform.
	RoleAdmin Role = "admin"
)

// AccessLevel is one of the four ordered entitlement tiers.
type AccessLevel string

const (
	AccessLevelPreview   AccessLevel = "preview"
	AccessLevelBasic     AccessLevel = "basic"
	AccessLevelPremium   AccessLevel = "premium"
	AccessLevelUnlimited AccessLevel = "unlimited"
)

// AccessLevels lists the tiers from lowest to highest.
var AccessLevels = []AccessLevel{
	AccessLevelPreview,
	AccessLevelBasic,
	AccessLevelPremium,
	AccessLevelUnlimited,
}

// Rank returns the position of the level in the tier ordering, or -1 for an
// unknown level.
func (l AccessLevel) Rank() int {
	for i, lv := range AccessLevels {
		if lv == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is a known tier.
func (l AccessLevel) Valid() bool {
	return l.Rank() >= 0
}

// SubscriptionStatus is the billing lifecycle state of an account.
type SubscriptionStatus string

const (
	SubscriptionStatusFree    SubscriptionStatus = "free"
	SubscriptionStatusTrial   SubscriptionStatus = "trial"
	SubscriptionStatusPremium SubscriptionStatus = "premium"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// User is a platform account together with its access fields.
// AccessLevel and SubscriptionStatus are a cache of the value derived from
// the trial and subscription end dates.
type User struct {
	ID                  string
	Email               string
	Name                string
	Role                Role
	AccessLevel         AccessLevel
	SubscriptionStatus  SubscriptionStatus
	TrialEndDate        *time.Time
	SubscriptionEndDate *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsPractitioner reports whether the account holds the practitioner role.
func (u *User) IsPractitioner() bool {
	return u.Role == RolePractitioner
}

// Practitioner is the bookable profile of a practitioner account.
type Practitioner struct {
	ID          string
	UserID      string
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is a login session of a user.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
