package identity

import (
	"testing"
	"time"
)

func TestUser_HasPassword(t *testing.T) {
	digest := "$argon2id$..."
	empty := ""

	tests := []struct {
		name string
		hash *string
		want bool
	}{
		{"nil hash", nil, false},
		{"empty hash", &empty, false},
		{"set hash", &digest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{PasswordHash: tt.hash}
			if got := u.HasPassword(); got != tt.want {
				t.Errorf("HasPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_LockExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(15 * time.Minute)

	unlocked := &User{IsLocked: false}
	if !unlocked.LockExpired(now) {
		t.Error("an unlocked user should always report an expired lock")
	}

	openEnded := &User{IsLocked: true}
	if openEnded.LockExpired(later.Add(24 * time.Hour)) {
		t.Error("a locked user with no NextAllowedLogin must stay locked")
	}

	locked := &User{IsLocked: true, NextAllowedLogin: &later}
	if locked.LockExpired(now) {
		t.Error("lock reported expired before the window elapsed")
	}
	if locked.LockExpired(later.Add(-time.Second)) {
		t.Error("lock reported expired one second early")
	}
	if !locked.LockExpired(later) {
		t.Error("lock not expired exactly at NextAllowedLogin")
	}
	if !locked.LockExpired(later.Add(time.Second)) {
		t.Error("lock not expired after the window")
	}
}

func TestPasswordReset_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reset := &PasswordReset{ExpiresAt: now.Add(30 * time.Minute)}

	if reset.Expired(now) {
		t.Error("fresh reset reported expired")
	}
	if reset.Expired(now.Add(30 * time.Minute)) {
		t.Error("reset reported expired exactly at its expiry instant")
	}
	if !reset.Expired(now.Add(30*time.Minute + time.Second)) {
		t.Error("reset not expired past its expiry")
	}
}
