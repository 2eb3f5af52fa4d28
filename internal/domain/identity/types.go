// Package identity contains the domain types for users, roles, and
// external identity bindings.
package identity

import (
	"time"
)

// Role names seeded at startup. A user holds exactly one role.
const (
	RoleAdmin           = "Admin"
	RolePatient         = "Patient"
	RoleProfessional    = "Professional"
	RoleScheduleManager = "ScheduleManager"

	// DefaultRole is assigned to accounts created through an external
	// identity provider.
	DefaultRole = RolePatient
)

// Role is an immutable named permission group, seeded at startup.
type Role struct {
	// ID is the unique identifier for this role.
	ID string
	// Name is the role name ("Admin", "Patient", ...).
	Name string
	// Description is a human-readable summary of the role.
	Description string
	// CreatedAt is when the role was seeded (UTC).
	CreatedAt time.Time
}

// User is the identity record at the center of authentication.
//
// PasswordHash is nil for accounts created through an external provider
// that never set a local password.
type User struct {
	ID           string
	Email        string
	PasswordHash *string
	FullName     string
	RoleID       string
	IsActive     bool

	// Lockout bookkeeping. FailedAttempts resets to 0 on any successful
	// login or when the lockout window has elapsed.
	IsLocked         bool
	FailedAttempts   int
	NextAllowedLogin *time.Time

	ForcePasswordChange bool

	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastSuccessfulLogin *time.Time
	LastFailedLogin     *time.Time
	PasswordChangedAt   *time.Time
}

// HasPassword reports whether the user has a local password set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// LockExpired reports whether a lockout window has fully elapsed at the
// given instant. A locked user with no NextAllowedLogin stays locked until
// an administrator intervenes.
func (u *User) LockExpired(now time.Time) bool {
	if !u.IsLocked {
		return true
	}
	if u.NextAllowedLogin == nil {
		return false
	}
	return !now.Before(*u.NextAllowedLogin)
}

// ExternalLogin binds one (Provider, ExternalID) pair to exactly one user.
// Rows are created when an external identity is first linked and never
// mutated afterwards.
type ExternalLogin struct {
	ID         string
	UserID     string
	Provider   string
	ExternalID string
	LinkedAt   time.Time
}

// PasswordReset is one outstanding password-change grant. At most one
// unexpired, unused reset is honored per user; requesting a new one
// invalidates the priors.
type PasswordReset struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Expired reports whether the reset grant has passed its expiry.
func (p *PasswordReset) Expired(now time.Time) bool {
	return p.ExpiresAt.Before(now)
}
