// Package token issues and validates signed bearer tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every validation failure: bad signature,
// expired, wrong issuer or audience, malformed input. Callers get one
// signal; the reason is logged, not surfaced.
var ErrInvalidToken = errors.New("invalid token")

// DefaultLifetime is the default absolute token lifetime.
const DefaultLifetime = 2 * time.Hour

// Config holds the signing parameters for an Authority.
type Config struct {
	// SigningKey is the symmetric HMAC-SHA256 key.
	SigningKey []byte
	// Issuer is embedded in and required of every token.
	Issuer string
	// Audience is embedded in and required of every token.
	Audience string
	// Lifetime is the absolute token lifetime. Default: 2 hours.
	Lifetime time.Duration
}

// Claims is the decoded claim set of a bearer token.
type Claims struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authority issues and validates HMAC-signed bearer tokens.
type Authority struct {
	key      []byte
	issuer   string
	audience string
	lifetime time.Duration

	now func() time.Time // overridable in tests
}

// NewAuthority creates an Authority from config.
func NewAuthority(cfg Config) (*Authority, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	lifetime := cfg.Lifetime
	if lifetime == 0 {
		lifetime = DefaultLifetime
	}
	return &Authority{
		key:      cfg.SigningKey,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Issue signs a token asserting the given identity and role.
// Returns the compact token string and its absolute expiry.
func (a *Authority) Issue(userID, email, fullName, role string) (string, time.Time, error) {
	now := a.now().UTC()
	expiresAt := now.Add(a.lifetime)

	claims := Claims{
		Email:    email,
		FullName: fullName,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			Audience:  jwt.ClaimStrings{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies signature, issuer, audience, and expiry with zero
// clock-skew tolerance and returns the decoded claim set. Every failure
// mode, including malformed input, maps to ErrInvalidToken.
func (a *Authority) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return a.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now().UTC() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
