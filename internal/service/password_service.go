package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agendasalud/authd/internal/domain/audit"
	"github.com/agendasalud/authd/internal/domain/identity"
	"github.com/agendasalud/authd/internal/domain/password"
)

// Password reset errors surfaced to the transport layer.
var (
	// ErrResetTokenInvalid is returned for unknown or already-consumed
	// reset tokens.
	ErrResetTokenInvalid = errors.New("reset token invalid")
	// ErrResetTokenExpired is returned when the grant has passed its
	// expiry.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrWeakPassword is returned when the new password fails the minimum
	// length policy.
	ErrWeakPassword = errors.New("password does not meet the minimum length requirement")
)

// Default password reset policy values.
const (
	DefaultResetTokenLifetime = 30 * time.Minute
	DefaultMinPasswordLength  = 8
)

// ResetPolicy holds the password-reset policy, constructed from config.
type ResetPolicy struct {
	// TokenLifetime is how long a reset grant stays redeemable.
	TokenLifetime time.Duration
	// MinPasswordLength is the minimum accepted new-password length.
	MinPasswordLength int
	// CaseInsensitiveEmails mirrors the authentication email policy.
	CaseInsensitiveEmails bool
}

func (p ResetPolicy) withDefaults() ResetPolicy {
	if p.TokenLifetime == 0 {
		p.TokenLifetime = DefaultResetTokenLifetime
	}
	if p.MinPasswordLength == 0 {
		p.MinPasswordLength = DefaultMinPasswordLength
	}
	return p
}

// ResetDelivery hands a freshly issued reset token to the out-of-band
// delivery collaborator (email, SMS). Implementations must not block.
type ResetDelivery interface {
	DeliverResetToken(ctx context.Context, email, resetToken string, expiresAt time.Time)
}

// PasswordService owns the password-reset lifecycle: issuing single-use,
// time-bounded reset grants and redeeming them for a password change.
type PasswordService struct {
	users    identity.UserStore
	resets   identity.PasswordResetStore
	hasher   *password.Hasher
	delivery ResetDelivery
	audit    *AuditService
	policy   ResetPolicy
	logger   *slog.Logger

	now func() time.Time // overridable in tests
}

// NewPasswordService creates a new PasswordService. delivery may be nil
// when no out-of-band channel is configured; tokens are then only logged
// at debug level.
func NewPasswordService(
	users identity.UserStore,
	resets identity.PasswordResetStore,
	hasher *password.Hasher,
	delivery ResetDelivery,
	auditSvc *AuditService,
	policy ResetPolicy,
	logger *slog.Logger,
) *PasswordService {
	return &PasswordService{
		users:    users,
		resets:   resets,
		hasher:   hasher,
		delivery: delivery,
		audit:    auditSvc,
		policy:   policy.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// RequestReset issues a new reset grant for the account, superseding any
// outstanding one. It reports success to the caller regardless of outcome
// so the endpoint cannot be used to probe for registered emails.
func (s *PasswordService) RequestReset(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email, s.policy.CaseInsensitiveEmails)
	now := s.now().UTC()

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		// Nothing observable happens for unknown emails.
		s.logger.Debug("reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		s.logger.Debug("reset requested for inactive account", "user_id", user.ID)
		return nil
	}

	resetToken, err := password.NewResetToken()
	if err != nil {
		return err
	}

	reset := &identity.PasswordReset{
		Token:     resetToken,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.policy.TokenLifetime),
		CreatedAt: now,
	}
	if err := s.resets.CreatePasswordReset(ctx, reset); err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}

	if s.delivery != nil {
		s.delivery.DeliverResetToken(ctx, user.Email, resetToken, reset.ExpiresAt)
	}

	s.recordAudit(audit.Record{
		UserID:    user.ID,
		Action:    audit.ActionResetRequested,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.logger.Info("password reset issued", "user_id", user.ID, "expires_at", reset.ExpiresAt)
	return nil
}

// ChangePassword redeems a reset grant for a new password. The digest
// update and the grant consumption commit in one transaction.
func (s *PasswordService) ChangePassword(ctx context.Context, resetToken, newPassword string, meta RequestMeta) error {
	now := s.now().UTC()

	reset, err := s.resets.GetPasswordResetByToken(ctx, resetToken)
	if errors.Is(err, identity.ErrNotFound) {
		return ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("look up reset: %w", err)
	}

	if reset.Expired(now) {
		return ErrResetTokenExpired
	}

	user, err := s.users.GetUserByID(ctx, reset.UserID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return ErrAccountInactive
	}

	if len(newPassword) < s.policy.MinPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, s.policy.MinPasswordLength)
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.resets.ConsumeResetAndSetPassword(ctx, reset.Token, user.ID, digest, now); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Consumed concurrently between lookup and redemption.
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("consume reset: %w", err)
	}

	s.recordAudit(audit.Record{
		UserID:    user.ID,
		Action:    audit.ActionPasswordChanged,
		Email:     user.Email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

func (s *PasswordService) recordAudit(record audit.Record) {
	if s.audit != nil {
		s.audit.Record(record)
	}
}
