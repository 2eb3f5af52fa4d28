package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups when no record matches.
var ErrNotFound = errors.New("record not found")

// UserStore persists user records.
//
// The write methods for login bookkeeping are deliberately narrow so the
// store can apply them as single atomic statements: two concurrent failed
// attempts against the same account must never undercount.
type UserStore interface {
	// GetUserByID retrieves a user by ID.
	// Returns ErrNotFound if the user doesn't exist.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by exact email match. Callers are
	// responsible for normalizing the email beforehand.
	// Returns ErrNotFound if no user has that email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// CreateUser inserts a new user record.
	CreateUser(ctx context.Context, user *User) error

	// UpdateUser updates an existing user's mutable fields.
	// Returns ErrNotFound if the user doesn't exist.
	UpdateUser(ctx context.Context, user *User) error

	// RecordFailedLogin atomically increments the failed-attempt counter
	// and stamps the failure. When the incremented counter reaches
	// threshold, the same statement locks the account until lockUntil.
	// Returns the post-increment counter and the resulting lock state.
	RecordFailedLogin(ctx context.Context, userID string, at time.Time, threshold int, lockUntil time.Time) (attempts int, locked bool, err error)

	// RecordSuccessfulLogin zeroes the failed-attempt counter, clears the
	// lock fields, and stamps the successful login in one write.
	RecordSuccessfulLogin(ctx context.Context, userID string, at time.Time) error

	// ClearLock unlocks the account and zeroes the failed-attempt counter
	// without stamping a login. Used when a lockout window has elapsed.
	ClearLock(ctx context.Context, userID string, at time.Time) error
}

// RoleStore reads the seeded role reference data.
type RoleStore interface {
	// GetRoleByName retrieves a role by its name.
	// Returns ErrNotFound if no such role is seeded.
	GetRoleByName(ctx context.Context, name string) (*Role, error)

	// GetRoleByID retrieves a role by ID.
	// Returns ErrNotFound if the role doesn't exist.
	GetRoleByID(ctx context.Context, id string) (*Role, error)
}

// ExternalLoginStore persists external identity bindings.
type ExternalLoginStore interface {
	// GetExternalLogin retrieves the binding for a (provider, externalID)
	// pair. Returns ErrNotFound if no binding exists.
	GetExternalLogin(ctx context.Context, provider, externalID string) (*ExternalLogin, error)

	// CreateExternalLogin inserts a new binding. The (provider,
	// externalID) pair is unique.
	CreateExternalLogin(ctx context.Context, login *ExternalLogin) error
}

// PasswordResetStore persists reset grants.
type PasswordResetStore interface {
	// CreatePasswordReset marks every outstanding unused reset for the
	// same user as used, then inserts the new grant. Both happen in one
	// transaction.
	CreatePasswordReset(ctx context.Context, reset *PasswordReset) error

	// GetPasswordResetByToken retrieves an unused reset by token.
	// Returns ErrNotFound if the token is unknown or already consumed.
	GetPasswordResetByToken(ctx context.Context, token string) (*PasswordReset, error)

	// ConsumeResetAndSetPassword marks the reset used and stores the new
	// password digest on the owning user in a single transaction. Partial
	// application (digest changed but token not consumed, or vice versa)
	// must be impossible. Returns ErrNotFound if the reset was consumed
	// concurrently.
	ConsumeResetAndSetPassword(ctx context.Context, token, userID, passwordHash string, at time.Time) error
}
