// Package service implements the identity and session authority: credential
// authentication, password-reset lifecycle, external identity linking, and
// the audit trail.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agendasalud/authd/internal/domain/audit"
	"github.com/agendasalud/authd/internal/domain/identity"
	"github.com/agendasalud/authd/internal/domain/password"
	"github.com/agendasalud/authd/internal/domain/token"
)

// Authentication errors surfaced to the transport layer.
var (
	ErrRoleNotFound = errors.New("role not found")
	// ErrDuplicateAccount is returned when registering an email that is
	// already taken.
	ErrDuplicateAccount = errors.New("account already registered")
	// ErrInvalidCredentials is returned for unknown emails and wrong
	// passwords alike; the message never reveals which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned when the account has been disabled.
	ErrAccountInactive = errors.New("account inactive, contact an administrator")
	// ErrAccountLocked is returned while a lockout window is in effect.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken is returned when a bearer token fails validation or
	// its subject no longer maps to a user in good standing.
	ErrInvalidToken = token.ErrInvalidToken
)

// Default lockout policy values.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

// SecurityPolicy holds the lockout and email-matching policy. Constructed
// from config, never read from ambient state.
type SecurityPolicy struct {
	// MaxFailedAttempts is the counter value that triggers a lockout.
	MaxFailedAttempts int
	// LockoutDuration is how long a lockout window lasts.
	LockoutDuration time.Duration
	// CaseInsensitiveEmails normalizes emails to lower case before every
	// lookup and insert.
	CaseInsensitiveEmails bool
}

// withDefaults fills zero policy fields with the default constants.
func (p SecurityPolicy) withDefaults() SecurityPolicy {
	if p.MaxFailedAttempts == 0 {
		p.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if p.LockoutDuration == 0 {
		p.LockoutDuration = DefaultLockoutDuration
	}
	return p
}

// RequestMeta carries transport-level caller details into the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Session is the result of a successful authentication.
type Session struct {
	UserID              string    `json:"userId"`
	Email               string    `json:"email"`
	FullName            string    `json:"fullName"`
	Role                string    `json:"role"`
	Token               string    `json:"token"`
	ExpiresAt           time.Time `json:"expiresAt"`
	ForcePasswordChange bool      `json:"forcePasswordChange"`
}

// TokenValidation is the result of checking a bearer token.
type TokenValidation struct {
	IsValid   bool      `json:"isValid"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// RegisterInput holds the input for registering a user.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	RoleName string
	Meta     RequestMeta
}

// LoginInput holds the input for a password login.
type LoginInput struct {
	Email    string
	Password string
	Meta     RequestMeta
}

// AuthService owns registration, password login, and token-backed identity
// checks, including the lockout state machine.
type AuthService struct {
	users  identity.UserStore
	roles  identity.RoleStore
	hasher *password.Hasher
	tokens *token.Authority
	audit  *AuditService
	policy SecurityPolicy
	logger *slog.Logger

	now func() time.Time // overridable in tests
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	users identity.UserStore,
	roles identity.RoleStore,
	hasher *password.Hasher,
	tokens *token.Authority,
	auditSvc *AuditService,
	policy SecurityPolicy,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		roles:  roles,
		hasher: hasher,
		tokens: tokens,
		audit:  auditSvc,
		policy: policy.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Register creates a new user with a freshly computed password digest and
// issues a token for it.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	email := normalizeEmail(input.Email, s.policy.CaseInsensitiveEmails)

	role, err := s.roles.GetRoleByName(ctx, input.RoleName)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, input.RoleName)
	}
	if err != nil {
		return nil, fmt.Errorf("look up role: %w", err)
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAccount, email)
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	digest, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &identity.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: &digest,
		FullName:     input.FullName,
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.recordAudit(audit.Record{
		UserID:    user.ID,
		Action:    audit.ActionUserRegistered,
		Email:     email,
		IPAddress: input.Meta.IPAddress,
		UserAgent: input.Meta.UserAgent,
	})
	s.logger.Info("user registered", "user_id", user.ID, "role", role.Name)

	return s.issueSession(user, role.Name)
}

// Login verifies credentials and advances the lockout state machine.
//
// Unknown email and wrong password produce the same error so callers cannot
// enumerate accounts. A locked account whose window has elapsed transitions
// back to active before the password is checked.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*Session, error) {
	email := normalizeEmail(input.Email, s.policy.CaseInsensitiveEmails)
	now := s.now().UTC()

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		s.recordAudit(audit.Record{
			Action:    audit.ActionLoginFailed,
			Email:     email,
			IPAddress: input.Meta.IPAddress,
			UserAgent: input.Meta.UserAgent,
		})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if err := s.ensureLoginAllowed(ctx, user, now, input.Meta); err != nil {
		return nil, err
	}

	match := false
	if user.HasPassword() {
		match, err = s.hasher.Verify(input.Password, *user.PasswordHash)
		if err != nil {
			return nil, err
		}
	}
	if !match {
		return nil, s.registerFailure(ctx, user, now, input.Meta)
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
		Action:    audit.ActionLoginSuccess,
		Email:     email,
		IPAddress: input.Meta.IPAddress,
		UserAgent: input.Meta.UserAgent,
	})
	s.logger.Info("login succeeded", "user_id", user.ID)

	return s.issueSession(user, role.Name)
}

// GetCurrentUser decodes the token and re-fetches the user to confirm it is
// still active and unlocked. A token is not self-sufficient proof of
// current standing.
func (s *AuthService) GetCurrentUser(ctx context.Context, rawToken string) (*Session, error) {
	claims, err := s.tokens.Validate(rawToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if err := s.ensureLoginAllowed(ctx, user, s.now().UTC(), RequestMeta{}); err != nil {
		return nil, err
	}

	role, err := s.roles.GetRoleByID(ctx, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("look up role: %w", err)
	}

	return &Session{
		UserID:              user.ID,
		Email:               user.Email,
		FullName:            user.FullName,
		Role:                role.Name,
		Token:               rawToken,
		ExpiresAt:           claims.ExpiresAt.Time,
		ForcePasswordChange: user.ForcePasswordChange,
	}, nil
}

// ValidateToken checks a bearer token and the current standing of its
// subject. Invalid tokens yield IsValid=false, never an error; errors are
// reserved for infrastructure failures.
func (s *AuthService) ValidateToken(ctx context.Context, rawToken string) (*TokenValidation, error) {
	session, err := s.GetCurrentUser(ctx, rawToken)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAccountLocked):
		return &TokenValidation{IsValid: false}, nil
	default:
		return nil, err
	}

	s.recordAudit(audit.Record{
		UserID: session.UserID,
		Action: audit.ActionTokenValidated,
		Email:  session.Email,
	})

	return &TokenValidation{
		IsValid:   true,
		UserID:    session.UserID,
		Email:     session.Email,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// ensureLoginAllowed enforces the active flag and the lockout window,
// transitioning an elapsed lockout back to active. The user struct is
// updated in place when a lock clears.
func (s *AuthService) ensureLoginAllowed(ctx context.Context, user *identity.User, now time.Time, meta RequestMeta) error {
	if !user.IsActive {
		return ErrAccountInactive
	}
	if !user.IsLocked {
		return nil
	}

	if !user.LockExpired(now) {
		minutes := int(s.policy.LockoutDuration.Minutes())
		if user.NextAllowedLogin != nil {
			minutes = int(user.NextAllowedLogin.Sub(now).Minutes())
		}
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Errorf("%w: try again in %d minutes", ErrAccountLocked, minutes)
	}

	if err := s.users.ClearLock(ctx, user.ID, now); err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	user.IsLocked = false
	user.FailedAttempts = 0
	user.NextAllowedLogin = nil

	s.recordAudit(audit.Record{
		UserID:    user.ID,
		Action:    audit.ActionAccountUnlocked,
		Email:     user.Email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// registerFailure books a failed attempt and returns the credential error,
// including attempts remaining or the lockout that just triggered.
func (s *AuthService) registerFailure(ctx context.Context, user *identity.User, now time.Time, meta RequestMeta) error {
	lockUntil := now.Add(s.policy.LockoutDuration)
	attempts, locked, err := s.users.RecordFailedLogin(ctx, user.ID, now, s.policy.MaxFailedAttempts, lockUntil)
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}

	s.recordAudit(audit.Record{
		UserID:    user.ID,
		Action:    audit.ActionLoginFailed,
		Email:     user.Email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	if locked {
		s.recordAudit(audit.Record{
			UserID:    user.ID,
			Action:    audit.ActionAccountLocked,
			Email:     user.Email,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
		s.logger.Warn("account locked", "user_id", user.ID, "attempts", attempts)
		minutes := int(s.policy.LockoutDuration.Minutes())
		return fmt.Errorf("%w: try again in %d minutes", ErrAccountLocked, minutes)
	}

	remaining := s.policy.MaxFailedAttempts - attempts
	return fmt.Errorf("%w: %d attempts remaining", ErrInvalidCredentials, remaining)
}

// issueSession signs a token for the user and assembles the session result.
func (s *AuthService) issueSession(user *identity.User, roleName string) (*Session, error) {
	signed, expiresAt, err := s.tokens.Issue(user.ID, user.Email, user.FullName, roleName)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{
		UserID:              user.ID,
		Email:               user.Email,
		FullName:            user.FullName,
		Role:                roleName,
		Token:               signed,
		ExpiresAt:           expiresAt,
		ForcePasswordChange: user.ForcePasswordChange,
	}, nil
}

// recordAudit forwards an event to the audit trail when one is configured.
func (s *AuthService) recordAudit(record audit.Record) {
	if s.audit != nil {
		s.audit.Record(record)
	}
}

// normalizeEmail applies the email matching policy.
func normalizeEmail(email string, caseInsensitive bool) string {
	email = strings.TrimSpace(email)
	if caseInsensitive {
		email = strings.ToLower(email)
	}
	return email
}
