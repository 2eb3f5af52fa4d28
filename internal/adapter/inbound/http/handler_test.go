package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agendasalud/authd/internal/adapter/outbound/sqlite"
	"github.com/agendasalud/authd/internal/domain/password"
	"github.com/agendasalud/authd/internal/domain/token"
	"github.com/agendasalud/authd/internal/service"
)

type handlerTestEnv struct {
	handler  http.Handler
	store    *sqlite.Store
	delivery *captureDelivery
}

type captureDelivery struct {
	mu     sync.Mutex
	tokens []string
}

func (d *captureDelivery) DeliverResetToken(ctx context.Context, email, resetToken string, expiresAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, resetToken)
}

func (d *captureDelivery) lastToken(t *testing.T) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tokens) == 0 {
		t.Fatal("no reset token was delivered")
	}
	return d.tokens[len(d.tokens)-1]
}

func testHandlerEnv(t *testing.T) *handlerTestEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "handler-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.SeedRoles(context.Background()); err != nil {
		t.Fatalf("SeedRoles: %v", err)
	}

	authority, err := token.NewAuthority(token.Config{
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "authd-test",
		Audience:   "authd-test-clients",
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := password.NewHasher()
	delivery := &captureDelivery{}

	authSvc := service.NewAuthService(store, store, hasher, authority, nil,
		service.SecurityPolicy{CaseInsensitiveEmails: true}, logger)
	passwordSvc := service.NewPasswordService(store, store, hasher, delivery, nil,
		service.ResetPolicy{CaseInsensitiveEmails: true}, logger)
	externalSvc := service.NewExternalAuthService(store, store, store, authSvc, nil, logger)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, nil)
	health := NewHealthChecker(store, nil, "test")

	h := NewHandler(authSvc, passwordSvc, externalSvc, health, metrics, reg, logger)
	return &handlerTestEnv{handler: h.Routes(), store: store, delivery: delivery}
}

func (env *handlerTestEnv) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	var resp envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func (env *handlerTestEnv) register(t *testing.T, email string) (userID, bearer string) {
	t.Helper()
	rec, resp := env.do(t, "POST", "/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
		"fullName": "Test User",
		"roleName": "Patient",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]any)
	return data["userId"].(string), data["token"].(string)
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	env := testHandlerEnv(t)

	userID, _ := env.register(t, "ana@example.com")

	rec, resp := env.do(t, "POST", "/auth/login", "", map[string]string{
		"email":    "ana@example.com",
		"password": "hunter2hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	if !resp.Success {
		t.Error("success=false on login")
	}
	data := resp.Data.(map[string]any)
	if data["userId"] != userID {
		t.Errorf("userId = %v, want %v", data["userId"], userID)
	}
	for _, field := range []string{"email", "fullName", "role", "token", "expiresAt"} {
		if _, ok := data[field]; !ok {
			t.Errorf("session missing field %q", field)
		}
	}
}

func TestHandler_RegisterValidation(t *testing.T) {
	env := testHandlerEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing email", map[string]string{"password": "hunter2hunter2", "fullName": "A", "roleName": "Patient"}},
		{"bad email", map[string]string{"email": "not-an-email", "password": "hunter2hunter2", "fullName": "A", "roleName": "Patient"}},
		{"short password", map[string]string{"email": "a@b.com", "password": "short", "fullName": "A", "roleName": "Patient"}},
		{"missing role", map[string]string{"email": "a@b.com", "password": "hunter2hunter2", "fullName": "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, "POST", "/auth/register", "", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp.ErrorCode != codeValidation {
				t.Errorf("error_code = %q, want %q", resp.ErrorCode, codeValidation)
			}
		})
	}
}

func TestHandler_RegisterMalformedJSON(t *testing.T) {
	env := testHandlerEnv(t)

	req := httptest.NewRequest("POST", "/auth/register", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_RegisterDuplicate(t *testing.T) {
	env := testHandlerEnv(t)
	env.register(t, "dup@example.com")

	rec, resp := env.do(t, "POST", "/auth/register", "", map[string]string{
		"email":    "dup@example.com",
		"password": "hunter2hunter2",
		"fullName": "Dup",
		"roleName": "Patient",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if resp.ErrorCode != codeDuplicateAccount {
		t.Errorf("error_code = %q", resp.ErrorCode)
	}
}

func TestHandler_RegisterUnknownRole(t *testing.T) {
	env := testHandlerEnv(t)

	rec, resp := env.do(t, "POST", "/auth/register", "", map[string]string{
		"email":    "a@b.com",
		"password": "hunter2hunter2",
		"fullName": "A",
		"roleName": "Superuser",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if resp.ErrorCode != codeRoleNotFound {
		t.Errorf("error_code = %q", resp.ErrorCode)
	}
}

func TestHandler_LoginFailuresAndLockout(t *testing.T) {
	env := testHandlerEnv(t)
	env.register(t, "ana@example.com")

	body := map[string]string{"email": "ana@example.com", "password": "wrong-password"}

	rec, resp := env.do(t, "POST", "/auth/login", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp.ErrorCode != codeInvalidCredentials {
		t.Errorf("error_code = %q", resp.ErrorCode)
	}
	if !strings.Contains(resp.Message, "4 attempts remaining") {
		t.Errorf("message = %q, want attempts remaining", resp.Message)
	}

	for i := 0; i < 3; i++ {
		env.do(t, "POST", "/auth/login", "", body)
	}

	rec, resp = env.do(t, "POST", "/auth/login", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp.ErrorCode != codeAccountLocked {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, codeAccountLocked)
	}
	if !strings.Contains(resp.Message, "minutes") {
		t.Errorf("message = %q, want minutes remaining", resp.Message)
	}

	// Correct password is refused while locked.
	rec, resp = env.do(t, "POST", "/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if rec.Code != http.StatusUnauthorized || resp.ErrorCode != codeAccountLocked {
		t.Errorf("status = %d error_code = %q, want 401 %q", rec.Code, resp.ErrorCode, codeAccountLocked)
	}
}

func TestHandler_Me(t *testing.T) {
	env := testHandlerEnv(t)
	userID, bearer := env.register(t, "ana@example.com")

	rec, resp := env.do(t, "GET", "/auth/me", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]any)
	if data["userId"] != userID {
		t.Errorf("userId = %v", data["userId"])
	}

	rec, resp = env.do(t, "GET", "/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized || resp.ErrorCode != codeInvalidToken {
		t.Errorf("missing token: status = %d error_code = %q", rec.Code, resp.ErrorCode)
	}

	rec, _ = env.do(t, "GET", "/auth/me", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
}

func TestHandler_ValidateToken(t *testing.T) {
	env := testHandlerEnv(t)
	_, bearer := env.register(t, "ana@example.com")

	rec, resp := env.do(t, "GET", "/auth/validate-token", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]any)
	if data["isValid"] != true {
		t.Errorf("isValid = %v", data["isValid"])
	}

	rec, resp = env.do(t, "GET", "/auth/validate-token", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
	if resp.Data != nil {
		if data, ok := resp.Data.(map[string]any); ok && data["isValid"] == true {
			t.Error("garbage token reported valid")
		}
	}
}

func TestHandler_PasswordResetFlow(t *testing.T) {
	env := testHandlerEnv(t)
	env.register(t, "ana@example.com")

	// Unknown email gets the same 200 as a known one.
	rec, _ := env.do(t, "POST", "/password/request-reset", "", map[string]string{"email": "nobody@example.com"})
	if rec.Code != http.StatusOK {
		t.Errorf("unknown email: status = %d, want 200", rec.Code)
	}

	rec, _ = env.do(t, "POST", "/password/request-reset", "", map[string]string{"email": "ana@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("request-reset: status = %d", rec.Code)
	}
	resetToken := env.delivery.lastToken(t)

	rec, resp := env.do(t, "POST", "/password/change", "", map[string]string{
		"resetToken": resetToken, "newPassword": "short",
	})
	if rec.Code != http.StatusBadRequest || resp.ErrorCode != codeWeakPassword {
		t.Errorf("weak password: status = %d error_code = %q", rec.Code, resp.ErrorCode)
	}

	rec, _ = env.do(t, "POST", "/password/change", "", map[string]string{
		"resetToken": resetToken, "newPassword": "brand-new-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change: status = %d body %s", rec.Code, rec.Body.String())
	}

	// Reuse is refused.
	rec, resp = env.do(t, "POST", "/password/change", "", map[string]string{
		"resetToken": resetToken, "newPassword": "another-password",
	})
	if rec.Code != http.StatusBadRequest || resp.ErrorCode != codeResetInvalid {
		t.Errorf("reuse: status = %d error_code = %q", rec.Code, resp.ErrorCode)
	}

	// The new password logs in.
	rec, _ = env.do(t, "POST", "/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "brand-new-password",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login with new password: status = %d", rec.Code)
	}
}

func TestHandler_ExternalLogin(t *testing.T) {
	env := testHandlerEnv(t)

	rec, resp := env.do(t, "POST", "/external-auth/login", "", map[string]string{
		"provider":   "google",
		"providerId": "sub-1",
		"email":      "ext@example.com",
		"fullName":   "Ext User",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]any)
	if data["role"] != "Patient" {
		t.Errorf("role = %v, want default Patient", data["role"])
	}

	// Missing providerId fails validation.
	rec, resp = env.do(t, "POST", "/external-auth/login", "", map[string]string{
		"provider": "google", "email": "ext@example.com",
	})
	if rec.Code != http.StatusBadRequest || resp.ErrorCode != codeValidation {
		t.Errorf("status = %d error_code = %q", rec.Code, resp.ErrorCode)
	}
}

func TestHandler_Healthz(t *testing.T) {
	env := testHandlerEnv(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("status = %q", health.Status)
	}
	if health.Checks["database"] != "ok" {
		t.Errorf("database check = %q", health.Checks["database"])
	}
}

func TestHandler_Metrics(t *testing.T) {
	env := testHandlerEnv(t)
	env.register(t, "ana@example.com")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authd_requests_total") {
		t.Error("metrics output missing authd_requests_total")
	}
}

func TestHandler_RequestIDHeader(t *testing.T) {
	env := testHandlerEnv(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}

	// A request without one gets a generated ID.
	req = httptest.NewRequest("GET", "/healthz", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID generated")
	}
}
