package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agendasalud/authd/internal/domain/audit"
	"github.com/agendasalud/authd/internal/domain/identity"
)

// ErrDefaultRoleMissing is returned when the seeded default role is absent.
// This is a deployment error, not a caller mistake.
var ErrDefaultRoleMissing = errors.New("default role is not seeded")

// ExternalLoginInput holds the verified identity details received from an
// external provider. The provider verified the email; this service trusts
// the input as received.
type ExternalLoginInput struct {
	Provider   string
	ExternalID string
	Email      string
	FullName   string
	Meta       RequestMeta
}

// ExternalAuthService reconciles externally authenticated identities with
// internal accounts: existing binding, link-by-email, or create-new.
type ExternalAuthService struct {
	users          identity.UserStore
	roles          identity.RoleStore
	externalLogins identity.ExternalLoginStore
	auth           *AuthService
	audit          *AuditService
	logger         *slog.Logger

	now func() time.Time // overridable in tests
}

// NewExternalAuthService creates a new ExternalAuthService. The lockout
// checks are shared with auth so an externally authenticated user is
// subject to the same account standing rules as a password login.
func NewExternalAuthService(
	users identity.UserStore,
	roles identity.RoleStore,
	externalLogins identity.ExternalLoginStore,
	auth *AuthService,
	auditSvc *AuditService,
	logger *slog.Logger,
) *ExternalAuthService {
	return &ExternalAuthService{
		users:          users,
		roles:          roles,
		externalLogins: externalLogins,
		auth:           auth,
		audit:          auditSvc,
		logger:         logger,
		now:            time.Now,
	}
}

// LoginOrRegister resolves an external identity to a session. Resolution
// order, first match wins: existing (provider, externalID) binding; a user
// with the same email (account linking); a brand-new account with the
// default role and no local password.
func (s *ExternalAuthService) LoginOrRegister(ctx context.Context, input ExternalLoginInput) (*Session, error) {
	email := normalizeEmail(input.Email, s.auth.policy.CaseInsensitiveEmails)
	now := s.now().UTC()

	// 1. Existing binding.
	login, err := s.externalLogins.GetExternalLogin(ctx, input.Provider, input.ExternalID)
	if err == nil {
		user, err := s.users.GetUserByID(ctx, login.UserID)
		if err != nil {
			return nil, fmt.Errorf("look up bound user: %w", err)
		}
		return s.completeLogin(ctx, user, now, input, audit.ActionExternalLogin)
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("look up external login: %w", err)
	}

	// 2. No binding, but an account already uses this email: link.
	user, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		if err := s.auth.ensureLoginAllowed(ctx, user, now, input.Meta); err != nil {
			return nil, err
		}
		if err := s.createBinding(ctx, user.ID, input, now); err != nil {
			return nil, err
		}
		s.logger.Info("external identity linked",
			"user_id", user.ID, "provider", input.Provider)
		return s.completeLogin(ctx, user, now, input, audit.ActionExternalLinked)
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("look up user by email: %w", err)
	}

	// 3. Brand-new account with the default role and no local password.
	role, err := s.roles.GetRoleByName(ctx, identity.DefaultRole)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDefaultRoleMissing, identity.DefaultRole)
	}
	if err != nil {
		return nil, fmt.Errorf("look up default role: %w", err)
	}

	user = &identity.User{
		ID:        uuid.New().String(),
		Email:     email,
		FullName:  input.FullName,
		RoleID:    role.ID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.createBinding(ctx, user.ID, input, now); err != nil {
		return nil, err
	}

	s.logger.Info("external identity registered",
		"user_id", user.ID, "provider", input.Provider, "role", role.Name)
	return s.completeLogin(ctx, user, now, input, audit.ActionExternalRegistered)
}

// completeLogin runs the shared standing checks, stamps the login, and
// issues a session.
func (s *ExternalAuthService) completeLogin(ctx context.Context, user *identity.User, now time.Time, input ExternalLoginInput, action string) (*Session, error) {
	if err := s.auth.ensureLoginAllowed(ctx, user, now, input.Meta); err != nil {
		return nil, err
	}

	if err := s.users.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("record successful login: %w", err)
	}

	role, err := s.roles.GetRoleByID(ctx, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("look up role: %w", err)
	}

	s.recordAudit(audit.Record{
		UserID:    user.ID,
		Action:    action,
		Email:     user.Email,
		IPAddress: input.Meta.IPAddress,
		UserAgent: input.Meta.UserAgent,
	})

	return s.auth.issueSession(user, role.Name)
}

// createBinding inserts the (provider, externalID) row for the user.
func (s *ExternalAuthService) createBinding(ctx context.Context, userID string, input ExternalLoginInput, now time.Time) error {
	binding := &identity.ExternalLogin{
		ID:         uuid.New().String(),
		UserID:     userID,
		Provider:   input.Provider,
		ExternalID: input.ExternalID,
		LinkedAt:   now,
	}
	if err := s.externalLogins.CreateExternalLogin(ctx, binding); err != nil {
		return fmt.Errorf("create external login: %w", err)
	}
	return nil
}

func (s *ExternalAuthService) recordAudit(record audit.Record) {
	if s.audit != nil {
		s.audit.Record(record)
	}
}
