// Package audit contains domain types for the authentication audit trail.
package audit

import (
	"time"
)

// Action constants for audit records. One record is written per
// security-relevant state transition.
const (
	ActionUserRegistered     = "user_registered"
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionAccountLocked      = "account_locked"
	ActionAccountUnlocked    = "account_unlocked"
	ActionTokenValidated     = "token_validated"
	ActionResetRequested     = "reset_requested"
	ActionPasswordChanged    = "password_changed"
	ActionExternalLogin      = "external_login"
	ActionExternalLinked     = "external_linked"
	ActionExternalRegistered = "external_registered"
)

// Record is a single audit trail entry.
type Record struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// UserID is the affected user, empty when the attempt never resolved
	// to an account (unknown email).
	UserID string `json:"user_id,omitempty"`
	// Action is one of the Action* constants.
	Action string `json:"action"`
	// Email is the email the caller presented, recorded even for unknown
	// accounts so probing patterns are visible.
	Email string `json:"email,omitempty"`
	// IPAddress is the client address as seen by the transport.
	IPAddress string `json:"ip_address,omitempty"`
	// UserAgent is the client's User-Agent header.
	UserAgent string `json:"user_agent,omitempty"`
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
}
