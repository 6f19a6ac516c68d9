// Package entitlement decides what an account may do based on its access
// level and subscription state.
package entitlement

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/floreser/floreser/internal/model"
)

// Permission names a gated capability.
type Permission string

const (
	PermViewPractitioners Permission = "viewPractitioners"
	PermViewProfiles      Permission = "viewProfiles"
	PermBookSessions      Permission = "bookSessions"
	PermAccessGarden      Permission = "accessGarden"
	PermPostToGarden      Permission = "postToGarden"
	PermSendMessages      Permission = "sendMessages"
	PermEarnSeeds         Permission = "earnSeeds"
	PermAIMatching        Permission = "aiMatching"
	PermPrioritySupport   Permission = "prioritySupport"
)

type valueKind int

const (
	kindDeny valueKind = iota
	kindAllow
	kindLimit
	kindUnlimited
)

// Value is the grant a tier holds for one permission: allowed, denied, a
// usage ceiling per window, or unlimited.
type Value struct {
	kind  valueKind
	limit int
}

// Allow grants the permission.
func Allow() Value { return Value{kind: kindAllow} }

// Deny withholds the permission.
func Deny() Value { return Value{kind: kindDeny} }

// Limit grants the permission up to n uses per window.
func Limit(n int) Value { return Value{kind: kindLimit, limit: n} }

// Unlimited grants the permission without a usage ceiling.
func Unlimited() Value { return Value{kind: kindUnlimited} }

// IsNumeric reports whether the value is a usage ceiling.
func (v Value) IsNumeric() bool { return v.kind == kindLimit }

// Granted reports whether the value grants anything at all.
func (v Value) Granted() bool {
	switch v.kind {
	case kindAllow, kindUnlimited:
		return true
	case kindLimit:
		return v.limit > 0
	}
	return false
}

// LimitValue returns the ceiling of a numeric value.
func (v Value) LimitValue() int { return v.limit }

// String renders the value the way it appears in the permission table.
func (v Value) String() string {
	switch v.kind {
	case kindAllow:
		return "true"
	case kindLimit:
		return fmt.Sprintf("%d", v.limit)
	case kindUnlimited:
		return "unlimited"
	}
	return "false"
}

// MarshalJSON encodes the value as true, false, a number or "unlimited".
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindAllow:
		return []byte("true"), nil
	case kindLimit:
		return json.Marshal(v.limit)
	case kindUnlimited:
		return []byte(`"unlimited"`), nil
	}
	return []byte("false"), nil
}

// Table maps every access level to its grants.
type Table map[model.AccessLevel]map[Permission]Value

// Policy is an immutable permission table. Build it with NewPolicy or
// DefaultPolicy.
type Policy struct {
	table Table
	perms []Permission
}

// NewPolicy validates and copies the table. Every access level must be
// present and every level must list the same permissions.
func NewPolicy(table Table) (*Policy, error) {
	var perms []Permission
	if base, ok := table[model.AccessLevelPreview]; ok {
		for p := range base {
			perms = append(perms, p)
		}
	}

	copied := make(Table, len(model.AccessLevels))
	for _, level := range model.AccessLevels {
		row, ok := table[level]
		if !ok {
			return nil, fmt.Errorf("policy has no entry for access level %q", level)
		}
		if len(row) != len(perms) {
			return nil, fmt.Errorf("access level %q lists %d permissions, want %d", level, len(row), len(perms))
		}
		c := make(map[Permission]Value, len(row))
		for p, v := range row {
			if _, ok := table[model.AccessLevelPreview][p]; !ok {
				return nil, fmt.Errorf("permission %q of level %q is missing from level %q", p, level, model.AccessLevelPreview)
			}
			if v.kind == kindLimit && v.limit < 0 {
				return nil, fmt.Errorf("permission %q of level %q has negative limit", p, level)
			}
			c[p] = v
		}
		copied[level] = c
	}
	for level := range table {
		if !level.Valid() {
			return nil, fmt.Errorf("unknown access level %q", level)
		}
	}

	slices.Sort(perms)
	return &Policy{table: copied, perms: perms}, nil
}

// DefaultPolicy returns the marketplace's standard permission table.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(Table{
		model.AccessLevelPreview: {
			PermViewPractitioners: Allow(),
			PermViewProfiles:      Deny(),
			PermBookSessions:      Deny(),
			PermAccessGarden:      Deny(),
			PermPostToGarden:      Deny(),
			PermSendMessages:      Deny(),
			PermEarnSeeds:         Deny(),
			PermAIMatching:        Deny(),
			PermPrioritySupport:   Deny(),
		},
		model.AccessLevelBasic: {
			PermViewPractitioners: Allow(),
			PermViewProfiles:      Allow(),
			PermBookSessions:      Limit(1),
			PermAccessGarden:      Allow(),
			PermPostToGarden:      Deny(),
			PermSendMessages:      Allow(),
			PermEarnSeeds:         Allow(),
			PermAIMatching:        Deny(),
			PermPrioritySupport:   Deny(),
		},
		model.AccessLevelPremium: {
			PermViewPractitioners: Allow(),
			PermViewProfiles:      Allow(),
			PermBookSessions:      Limit(10),
			PermAccessGarden:      Allow(),
			PermPostToGarden:      Allow(),
			PermSendMessages:      Allow(),
			PermEarnSeeds:         Allow(),
			PermAIMatching:        Allow(),
			PermPrioritySupport:   Deny(),
		},
		model.AccessLevelUnlimited: {
			PermViewPractitioners: Allow(),
			PermViewProfiles:      Allow(),
			PermBookSessions:      Unlimited(),
			PermAccessGarden:      Allow(),
			PermPostToGarden:      Allow(),
			PermSendMessages:      Allow(),
			PermEarnSeeds:         Allow(),
			PermAIMatching:        Allow(),
			PermPrioritySupport:   Allow(),
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup returns the grant of level for perm. ok is false for an unknown
// level or permission.
func (p *Policy) Lookup(level model.AccessLevel, perm Permission) (Value, bool) {
	row, ok := p.table[level]
	if !ok {
		return Value{}, false
	}
	v, ok := row[perm]
	return v, ok
}

// Permissions returns a copy of the grants for level.
func (p *Policy) Permissions(level model.AccessLevel) map[Permission]Value {
	row := p.table[level]
	out := make(map[Permission]Value, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Names returns every permission in the policy, sorted.
func (p *Policy) Names() []Permission {
	out := make([]Permission, len(p.perms))
	copy(out, p.perms)
	return out
}

// NumericPermissions returns the permissions that carry a usage ceiling at
// any level.
func (p *Policy) NumericPermissions() []Permission {
	var out []Permission
	for _, perm := range p.perms {
		for _, level := range model.AccessLevels {
			if p.table[level][perm].IsNumeric() {
				out = append(out, perm)
				break
			}
		}
	}
	return out
}

// UnlockingLevel returns the lowest level above current whose grant for perm
// is better than current's. It returns "" when no higher level improves it.
func (p *Policy) UnlockingLevel(current model.AccessLevel, perm Permission) model.AccessLevel {
	cur, _ := p.Lookup(current, perm)
	for _, level := range model.AccessLevels {
		if level.Rank() <= current.Rank() {
			continue
		}
		v, ok := p.Lookup(level, perm)
		if !ok {
			continue
		}
		if better(v, cur) {
			return level
		}
	}
	return ""
}

// better reports whether a grants strictly more than b.
func better(a, b Value) bool {
	rank := func(v Value) int {
		switch v.kind {
		case kindDeny:
			return 0
		case kindLimit:
			return 1
		case kindAllow, kindUnlimited:
			return 2
		}
		return 0
	}
	if a.kind == kindLimit && b.kind == kindLimit {
		return a.limit > b.limit
	}
	return rank(a) > rank(b)
}
