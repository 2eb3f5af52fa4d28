package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agendasalud/authd/internal/domain/audit"
	"github.com/agendasalud/authd/internal/domain/identity"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "authd-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTestUser(t *testing.T, store *Store, email string) *identity.User {
	t.Helper()
	ctx := context.Background()
	if err := store.SeedRoles(ctx); err != nil {
		t.Fatalf("SeedRoles: %v", err)
	}
	role, err := store.GetRoleByName(ctx, identity.RolePatient)
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	hash := "$argon2id$test-digest"
	now := time.Now().UTC()
	user := &identity.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: &hash,
		FullName:     "Test User",
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func TestStore_UserRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "ana@example.com")

	byID, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.Email != "ana@example.com" {
		t.Errorf("email = %q", byID.Email)
	}
	if !byID.HasPassword() {
		t.Error("password hash did not survive the round trip")
	}
	if !byID.IsActive || byID.IsLocked || byID.FailedAttempts != 0 {
		t.Errorf("unexpected initial state: %+v", byID)
	}

	byEmail, err := store.GetUserByEmail(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("lookup by email returned different user %q", byEmail.ID)
	}
}

func TestStore_GetUserNotFound(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.GetUserByID(ctx, "nope"); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("GetUserByID: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("GetUserByEmail: expected ErrNotFound, got %v", err)
	}
}

func TestStore_DuplicateEmailRejected(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "dup@example.com")

	clone := *user
	clone.ID = uuid.New().String()
	if err := store.CreateUser(ctx, &clone); err == nil {
		t.Fatal("expected unique constraint violation for duplicate email")
	}
}

func TestStore_UpdateUser(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "upd@example.com")

	user.FullName = "Updated Name"
	user.IsActive = false
	user.UpdatedAt = time.Now().UTC()
	if err := store.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.FullName != "Updated Name" || got.IsActive {
		t.Errorf("update not persisted: %+v", got)
	}

	missing := *user
	missing.ID = "missing"
	if err := store.UpdateUser(ctx, &missing); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("UpdateUser on missing row: expected ErrNotFound, got %v", err)
	}
}

func TestStore_RecordFailedLoginLocksAtThreshold(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "lock@example.com")

	now := time.Now().UTC()
	lockUntil := now.Add(15 * time.Minute)

	for i := 1; i <= 4; i++ {
		attempts, locked, err := store.RecordFailedLogin(ctx, user.ID, now, 5, lockUntil)
		if err != nil {
			t.Fatalf("RecordFailedLogin #%d: %v", i, err)
		}
		if attempts != i || locked {
			t.Fatalf("attempt %d: got attempts=%d locked=%v", i, attempts, locked)
		}
	}

	attempts, locked, err := store.RecordFailedLogin(ctx, user.ID, now, 5, lockUntil)
	if err != nil {
		t.Fatalf("RecordFailedLogin #5: %v", err)
	}
	if attempts != 5 || !locked {
		t.Fatalf("threshold attempt: got attempts=%d locked=%v", attempts, locked)
	}

	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if !got.IsLocked || got.NextAllowedLogin == nil {
		t.Fatalf("lock state not persisted: %+v", got)
	}
	if got.NextAllowedLogin.Sub(lockUntil).Abs() > time.Second {
		t.Errorf("next_allowed_login = %v, want ~%v", got.NextAllowedLogin, lockUntil)
	}
}

func TestStore_RecordFailedLoginConcurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "race@example.com")

	now := time.Now().UTC()
	lockUntil := now.Add(15 * time.Minute)

	const workers = 5
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempts, _, err := store.RecordFailedLogin(ctx, user.ID, now, workers, lockUntil)
			if err != nil {
				t.Errorf("RecordFailedLogin: %v", err)
				return
			}
			results <- attempts
		}()
	}
	wg.Wait()
	close(results)

	// Every increment must be observed exactly once; no two goroutines may
	// read the same counter value.
	seen := make(map[int]bool)
	for attempts := range results {
		if seen[attempts] {
			t.Errorf("counter value %d returned twice; increment is not atomic", attempts)
		}
		seen[attempts] = true
	}

	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.FailedAttempts != workers {
		t.Errorf("failed_attempts = %d, want %d", got.FailedAttempts, workers)
	}
	if !got.IsLocked {
		t.Error("user not locked after reaching the threshold concurrently")
	}
}

func TestStore_RecordSuccessfulLoginResetsCounters(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "reset@example.com")

	now := time.Now().UTC()
	if _, _, err := store.RecordFailedLogin(ctx, user.ID, now, 5, now.Add(15*time.Minute)); err != nil {
		t.Fatalf("RecordFailedLogin: %v", err)
	}

	if err := store.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		t.Fatalf("RecordSuccessfulLogin: %v", err)
	}

	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.FailedAttempts != 0 || got.IsLocked || got.NextAllowedLogin != nil {
		t.Errorf("counters not reset: %+v", got)
	}
	if got.LastSuccessfulLogin == nil {
		t.Error("last_successful_login not recorded")
	}
}

func TestStore_ClearLock(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "clear@example.com")

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if _, _, err := store.RecordFailedLogin(ctx, user.ID, now, 5, now.Add(15*time.Minute)); err != nil {
			t.Fatalf("RecordFailedLogin: %v", err)
		}
	}

	if err := store.ClearLock(ctx, user.ID, now); err != nil {
		t.Fatalf("ClearLock: %v", err)
	}

	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.IsLocked || got.FailedAttempts != 0 || got.NextAllowedLogin != nil {
		t.Errorf("lock not cleared: %+v", got)
	}
}

func TestStore_SeedRolesIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SeedRoles(ctx); err != nil {
		t.Fatalf("SeedRoles: %v", err)
	}
	first, err := store.GetRoleByName(ctx, identity.RoleAdmin)
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}

	// Second pass must keep the existing rows.
	if err := store.SeedRoles(ctx); err != nil {
		t.Fatalf("SeedRoles (second): %v", err)
	}
	second, err := store.GetRoleByName(ctx, identity.RoleAdmin)
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("reseeding replaced role %q with %q", first.ID, second.ID)
	}

	for _, name := range []string{
		identity.RoleAdmin, identity.RolePatient,
		identity.RoleProfessional, identity.RoleScheduleManager,
	} {
		role, err := store.GetRoleByName(ctx, name)
		if err != nil {
			t.Errorf("role %q not seeded: %v", name, err)
			continue
		}
		if role.Description == "" {
			t.Errorf("role %q has no description", name)
		}
	}
}

func TestStore_ExternalLogins(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "ext@example.com")

	if _, err := store.GetExternalLogin(ctx, "google", "sub-1"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before binding, got %v", err)
	}

	binding := &identity.ExternalLogin{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		Provider:   "google",
		ExternalID: "sub-1",
		LinkedAt:   time.Now().UTC(),
	}
	if err := store.CreateExternalLogin(ctx, binding); err != nil {
		t.Fatalf("CreateExternalLogin: %v", err)
	}

	got, err := store.GetExternalLogin(ctx, "google", "sub-1")
	if err != nil {
		t.Fatalf("GetExternalLogin: %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("binding resolves to %q, want %q", got.UserID, user.ID)
	}

	dup := *binding
	dup.ID = uuid.New().String()
	if err := store.CreateExternalLogin(ctx, &dup); err == nil {
		t.Error("expected unique constraint violation on duplicate (provider, external_id)")
	}
}

func TestStore_PasswordResetSupersede(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "pr@example.com")

	now := time.Now().UTC()
	first := &identity.PasswordReset{
		Token:     "token-one",
		UserID:    user.ID,
		ExpiresAt: now.Add(30 * time.Minute),
		CreatedAt: now,
	}
	if err := store.CreatePasswordReset(ctx, first); err != nil {
		t.Fatalf("CreatePasswordReset: %v", err)
	}

	second := &identity.PasswordReset{
		Token:     "token-two",
		UserID:    user.ID,
		ExpiresAt: now.Add(30 * time.Minute),
		CreatedAt: now,
	}
	if err := store.CreatePasswordReset(ctx, second); err != nil {
		t.Fatalf("CreatePasswordReset (second): %v", err)
	}

	// The first grant is superseded and no longer retrievable.
	if _, err := store.GetPasswordResetByToken(ctx, "token-one"); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("superseded reset still retrievable: %v", err)
	}
	if _, err := store.GetPasswordResetByToken(ctx, "token-two"); err != nil {
		t.Errorf("latest reset not retrievable: %v", err)
	}
}

func TestStore_ConsumeResetAndSetPassword(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	user := seedTestUser(t, store, "chg@example.com")

	now := time.Now().UTC()
	reset := &identity.PasswordReset{
		Token:     "consume-me",
		UserID:    user.ID,
		ExpiresAt: now.Add(30 * time.Minute),
		CreatedAt: now,
	}
	if err := store.CreatePasswordReset(ctx, reset); err != nil {
		t.Fatalf("CreatePasswordReset: %v", err)
	}

	if err := store.ConsumeResetAndSetPassword(ctx, "consume-me", user.ID, "$argon2id$new-digest", now); err != nil {
		t.Fatalf("ConsumeResetAndSetPassword: %v", err)
	}

	// Both writes must have landed: the token is spent and the digest changed.
	if _, err := store.GetPasswordResetByToken(ctx, "consume-me"); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("consumed reset still retrievable: %v", err)
	}
	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.PasswordHash == nil || *got.PasswordHash != "$argon2id$new-digest" {
		t.Error("password digest not updated")
	}
	if got.PasswordChangedAt == nil {
		t.Error("password_changed_at not recorded")
	}

	// Second consumption of the same token must fail.
	if err := store.ConsumeResetAndSetPassword(ctx, "consume-me", user.ID, "$argon2id$other", now); !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("second consume: expected ErrNotFound, got %v", err)
	}
}

func TestStore_AuditWriteBatch(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	records := []audit.Record{
		{ID: uuid.New().String(), UserID: "u1", Action: audit.ActionLoginSuccess, Email: "a@b.com", IPAddress: "10.0.0.1", UserAgent: "test", Timestamp: time.Now().UTC().Add(-time.Minute)},
		{ID: uuid.New().String(), UserID: "u1", Action: audit.ActionLoginFailed, Email: "a@b.com", IPAddress: "10.0.0.1", UserAgent: "test", Timestamp: time.Now().UTC()},
	}
	if err := store.WriteBatch(ctx, records); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := store.WriteBatch(ctx, nil); err != nil {
		t.Fatalf("WriteBatch(nil): %v", err)
	}

	recent, err := store.RecentAuditRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAuditRecords: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Action != audit.ActionLoginFailed {
		t.Errorf("recent[0].Action = %q, want %q", recent[0].Action, audit.ActionLoginFailed)
	}
}

func TestStore_Ping(t *testing.T) {
	store := testStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
