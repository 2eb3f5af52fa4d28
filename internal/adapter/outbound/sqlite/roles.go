package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agendasalud/authd/internal/domain/identity"
)

// seededRoles is the immutable role reference data created at startup.
var seededRoles = []identity.Role{
	{Name: identity.RoleAdmin, Description: "System administrator"},
	{Name: identity.RolePatient, Description: "Requests appointments and medical services"},
	{Name: identity.RoleProfessional, Description: "Provides medical services"},
	{Name: identity.RoleScheduleManager, Description: "Manages agendas and availability"},
}

// SeedRoles inserts the predefined roles that don't exist yet. Idempotent;
// safe to run on every startup.
func (s *Store) SeedRoles(ctx context.Context) error {
	now := toMillis(time.Now())
	for _, role := range seededRoles {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO roles (id, name, description, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (name) DO NOTHING`,
			uuid.New().String(), role.Name, role.Description, now)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

func scanRole(row rowScanner) (*identity.Role, error) {
	var r identity.Role
	var createdAt int64
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

// GetRoleByName retrieves a role by its name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM roles WHERE name = ?`, name)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get role by name: %w", err)
	}
	return role, nil
}

// GetRoleByID retrieves a role by ID.
func (s *Store) GetRoleByID(ctx context.Context, id string) (*identity.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM roles WHERE id = ?`, id)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get role by id: %w", err)
	}
	return role, nil
}

var _ identity.RoleStore = (*Store)(nil)
