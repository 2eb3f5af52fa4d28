package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agendasalud/authd/internal/domain/identity"
)

const userColumns = `id, email, password_hash, full_name, role_id, is_active, is_locked,
failed_attempts, force_password_change, next_allowed_login, last_successful_login,
last_failed_login, password_changed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*identity.User, error) {
	var u identity.User
	var passwordHash sql.NullString
	var isActive, isLocked, forceChange int
	var nextAllowed, lastSuccess, lastFailed, passwordChanged sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&u.ID,
		&u.Email,
		&passwordHash,
		&u.FullName,
		&u.RoleID,
		&isActive,
		&isLocked,
		&u.FailedAttempts,
		&forceChange,
		&nextAllowed,
		&lastSuccess,
		&lastFailed,
		&passwordChanged,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if passwordHash.Valid {
		u.PasswordHash = &passwordHash.String
	}
	u.IsActive = isActive != 0
	u.IsLocked = isLocked != 0
	u.ForcePasswordChange = forceChange != 0
	u.NextAllowedLogin = millisPtr(nextAllowed)
	u.LastSuccessfulLogin = millisPtr(lastSuccess)
	u.LastFailedLogin = millisPtr(lastFailed)
	u.PasswordChangedAt = millisPtr(passwordChanged)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*identity.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by exact email match.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user record.
func (s *Store) CreateUser(ctx context.Context, user *identity.User) error {
	var passwordHash sql.NullString
	if user.PasswordHash != nil {
		passwordHash = sql.NullString{String: *user.PasswordHash, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (
	id, email, password_hash, full_name, role_id, is_active, is_locked,
	failed_attempts, force_password_change, next_allowed_login,
	last_successful_login, last_failed_login, password_changed_at,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		passwordHash,
		user.FullName,
		user.RoleID,
		boolToInt(user.IsActive),
		boolToInt(user.IsLocked),
		user.FailedAttempts,
		boolToInt(user.ForcePasswordChange),
		nullMillis(user.NextAllowedLogin),
		nullMillis(user.LastSuccessfulLogin),
		nullMillis(user.LastFailedLogin),
		nullMillis(user.PasswordChangedAt),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateUser updates an existing user's mutable fields.
func (s *Store) UpdateUser(ctx context.Context, user *identity.User) error {
	var passwordHash sql.NullString
	if user.PasswordHash != nil {
		passwordHash = sql.NullString{String: *user.PasswordHash, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE users SET
	email = ?,
	password_hash = ?,
	full_name = ?,
	role_id = ?,
	is_active = ?,
	is_locked = ?,
	failed_attempts = ?,
	force_password_change = ?,
	next_allowed_login = ?,
	last_successful_login = ?,
	last_failed_login = ?,
	password_changed_at = ?,
	updated_at = ?
WHERE id = ?`,
		user.Email,
		passwordHash,
		user.FullName,
		user.RoleID,
		boolToInt(user.IsActive),
		boolToInt(user.IsLocked),
		user.FailedAttempts,
		boolToInt(user.ForcePasswordChange),
		nullMillis(user.NextAllowedLogin),
		nullMillis(user.LastSuccessfulLogin),
		nullMillis(user.LastFailedLogin),
		nullMillis(user.PasswordChangedAt),
		toMillis(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if affected == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// RecordFailedLogin increments the failed-attempt counter, stamps the
// failure, and locks the account in the same statement once the counter
// reaches threshold. The increment is a single atomic UPDATE so concurrent
// attempts against one account cannot undercount.
func (s *Store) RecordFailedLogin(ctx context.Context, userID string, at time.Time, threshold int, lockUntil time.Time) (int, bool, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE users SET
	failed_attempts = failed_attempts + 1,
	last_failed_login = ?1,
	updated_at = ?1,
	is_locked = CASE WHEN failed_attempts + 1 >= ?2 THEN 1 ELSE is_locked END,
	next_allowed_login = CASE WHEN failed_attempts + 1 >= ?2 THEN ?3 ELSE next_allowed_login END
WHERE id = ?4
RETURNING failed_attempts, is_locked`,
		toMillis(at), threshold, toMillis(lockUntil), userID)

	var attempts, locked int
	if err := row.Scan(&attempts, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, identity.ErrNotFound
		}
		return 0, false, fmt.Errorf("record failed login: %w", err)
	}
	return attempts, locked != 0, nil
}

// RecordSuccessfulLogin zeroes lockout state and stamps the login.
func (s *Store) RecordSuccessfulLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users SET
	failed_attempts = 0,
	is_locked = 0,
	next_allowed_login = NULL,
	last_successful_login = ?1,
	updated_at = ?1
WHERE id = ?2`, toMillis(at), userID)
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record successful login rows affected: %w", err)
	}
	if affected == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// ClearLock unlocks the account and zeroes the failed-attempt counter.
func (s *Store) ClearLock(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users SET
	failed_attempts = 0,
	is_locked = 0,
	next_allowed_login = NULL,
	updated_at = ?1
WHERE id = ?2`, toMillis(at), userID)
	if err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear lock rows affected: %w", err)
	}
	if affected == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ identity.UserStore = (*Store)(nil)
