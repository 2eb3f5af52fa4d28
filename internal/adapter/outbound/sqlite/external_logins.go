package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agendasalud/authd/internal/domain/identity"
)

// GetExternalLogin retrieves the binding for a (provider, externalID) pair.
func (s *Store) GetExternalLogin(ctx context.Context, provider, externalID string) (*identity.ExternalLogin, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, provider, external_id, linked_at
FROM external_logins
WHERE provider = ? AND external_id = ?`, provider, externalID)

	var login identity.ExternalLogin
	var linkedAt int64
	err := row.Scan(&login.ID, &login.UserID, &login.Provider, &login.ExternalID, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get external login: %w", err)
	}
	login.LinkedAt = fromMillis(linkedAt)
	return &login, nil
}

// CreateExternalLogin inserts a new binding.
func (s *Store) CreateExternalLogin(ctx context.Context, login *identity.ExternalLogin) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO external_logins (id, user_id, provider, external_id, linked_at)
VALUES (?, ?, ?, ?, ?)`,
		login.ID, login.UserID, login.Provider, login.ExternalID, toMillis(login.LinkedAt))
	if err != nil {
		return fmt.Errorf("create external login: %w", err)
	}
	return nil
}

var _ identity.ExternalLoginStore = (*Store)(nil)
