package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agendasalud/authd/internal/domain/identity"
)

// CreatePasswordReset supersedes every outstanding unused reset for the
// same user, then inserts the new grant. Both writes commit together.
func (s *Store) CreatePasswordReset(ctx context.Context, reset *identity.PasswordReset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE password_resets SET used = 1 WHERE user_id = ? AND used = 0`,
		reset.UserID); err != nil {
		return fmt.Errorf("supersede prior resets: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO password_resets (token, user_id, expires_at, used, created_at)
VALUES (?, ?, ?, ?, ?)`,
		reset.Token, reset.UserID, toMillis(reset.ExpiresAt),
		boolToInt(reset.Used), toMillis(reset.CreatedAt)); err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset tx: %w", err)
	}
	return nil
}

// GetPasswordResetByToken retrieves an unused reset grant by token.
func (s *Store) GetPasswordResetByToken(ctx context.Context, token string) (*identity.PasswordReset, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT token, user_id, expires_at, used, created_at
FROM password_resets
WHERE token = ? AND used = 0`, token)

	var reset identity.PasswordReset
	var expiresAt, createdAt int64
	var used int
	err := row.Scan(&reset.Token, &reset.UserID, &expiresAt, &used, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get password reset: %w", err)
	}
	reset.ExpiresAt = fromMillis(expiresAt)
	reset.Used = used != 0
	reset.CreatedAt = fromMillis(createdAt)
	return &reset, nil
}

// ConsumeResetAndSetPassword consumes the reset grant and stores the new
// password digest in a single transaction, so a digest change without
// token consumption (or vice versa) cannot be observed.
func (s *Store) ConsumeResetAndSetPassword(ctx context.Context, token, userID, passwordHash string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE password_resets SET used = 1 WHERE token = ? AND used = 0`, token)
	if err != nil {
		return fmt.Errorf("consume reset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume reset rows affected: %w", err)
	}
	if affected == 0 {
		// Raced with another consumer. The grant is single-use.
		return identity.ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
UPDATE users SET
	password_hash = ?1,
	password_changed_at = ?2,
	force_password_change = 0,
	updated_at = ?2
WHERE id = ?3`, passwordHash, toMillis(at), userID)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set password rows affected: %w", err)
	}
	if affected == 0 {
		return identity.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consume tx: %w", err)
	}
	return nil
}

var _ identity.PasswordResetStore = (*Store)(nil)
