// Package password provides one-way password hashing and reset-token
// generation.
package password

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// Hasher produces and verifies Argon2id password digests.
type Hasher struct {
	params *argon2id.Params
}

// NewHasher creates a Hasher with the library's default parameters.
func NewHasher() *Hasher {
	return &Hasher{params: argon2id.DefaultParams}
}

// Hash computes a salted Argon2id digest of the plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := argon2id.CreateHash(plaintext, h.params)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return digest, nil
}

// Verify reports whether the plaintext matches the stored digest.
func (h *Hasher) Verify(plaintext, digest string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(plaintext, digest)
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return match, nil
}

// NewResetToken generates a URL-safe 256-bit random token for a password
// reset grant.
func NewResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
