// Package http provides the HTTP transport adapter for the identity service.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agendasalud/authd/internal/service"
)

// Error codes returned in the error_code field of the response envelope.
const (
	codeValidation         = "VALIDATION_ERROR"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeAccountLocked      = "ACCOUNT_LOCKED"
	codeAccountInactive    = "ACCOUNT_INACTIVE"
	codeInvalidToken       = "INVALID_TOKEN"
	codeDuplicateAccount   = "DUPLICATE_ACCOUNT"
	codeRoleNotFound       = "ROLE_NOT_FOUND"
	codeResetInvalid       = "RESET_TOKEN_INVALID"
	codeResetExpired       = "RESET_TOKEN_EXPIRED"
	codeWeakPassword       = "WEAK_PASSWORD"
	codeInternal           = "INTERNAL_ERROR"
)

// envelope is the uniform JSON body returned by every API endpoint.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Handler exposes the identity, password reset, and external login
// operations over HTTP.
type Handler struct {
	auth      *service.AuthService
	passwords *service.PasswordService
	external  *service.ExternalAuthService
	health    *HealthChecker
	metrics   *Metrics
	registry  *prometheus.Registry
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates a Handler over the given services.
func NewHandler(
	auth *service.AuthService,
	passwords *service.PasswordService,
	external *service.ExternalAuthService,
	health *HealthChecker,
	metrics *Metrics,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		auth:      auth,
		passwords: passwords,
		external:  external,
		health:    health,
		metrics:   metrics,
		registry:  registry,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Routes returns the root http.Handler with all routes registered and the
// middleware chain applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/me", h.handleMe)
	mux.HandleFunc("GET /auth/validate-token", h.handleValidateToken)

	mux.HandleFunc("POST /password/request-reset", h.handleRequestReset)
	mux.HandleFunc("POST /password/change", h.handleChangePassword)

	mux.HandleFunc("POST /external-auth/login", h.handleExternalLogin)

	if h.health != nil {
		mux.Handle("GET /healthz", h.health.Handler())
	}
	if h.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{
			Registry: h.registry,
		}))
	}

	// Middleware order (outermost first): metrics must wrap the request ID
	// middleware so the recorded duration covers the full chain.
	var handler http.Handler = mux
	handler = RequestIDMiddleware(h.logger)(handler)
	if h.metrics != nil {
		handler = MetricsMiddleware(h.metrics)(handler)
	}
	return handler
}

// --- JSON helper methods ---

// respondJSON writes the envelope with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondData writes a success envelope with the given payload.
func (h *Handler) respondData(w http.ResponseWriter, status int, message string, data any) {
	h.respondJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// respondError writes a failure envelope with the given error code.
func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, envelope{Success: false, Message: message, ErrorCode: code})
}

// decodeAndValidate decodes the request body into v and checks its
// validation tags. A false return means the response has been written.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.respondError(w, http.StatusBadRequest, codeValidation, validationMessage(err))
		return false
	}
	return true
}

// respondServiceError maps service-level errors to HTTP status codes and
// envelope error codes. Unrecognized errors are treated as internal and
// logged without leaking details to the caller.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		h.respondError(w, http.StatusUnauthorized, codeInvalidCredentials, err.Error())
	case errors.Is(err, service.ErrAccountLocked):
		h.respondError(w, http.StatusUnauthorized, codeAccountLocked, err.Error())
	case errors.Is(err, service.ErrAccountInactive):
		h.respondError(w, http.StatusUnauthorized, codeAccountInactive, err.Error())
	case errors.Is(err, service.ErrInvalidToken):
		h.respondError(w, http.StatusUnauthorized, codeInvalidToken, "invalid or expired token")
	case errors.Is(err, service.ErrRoleNotFound):
		h.respondError(w, http.StatusBadRequest, codeRoleNotFound, err.Error())
	case errors.Is(err, service.ErrDuplicateAccount):
		h.respondError(w, http.StatusConflict, codeDuplicateAccount, err.Error())
	case errors.Is(err, service.ErrResetTokenInvalid):
		h.respondError(w, http.StatusBadRequest, codeResetInvalid, err.Error())
	case errors.Is(err, service.ErrResetTokenExpired):
		h.respondError(w, http.StatusBadRequest, codeResetExpired, err.Error())
	case errors.Is(err, service.ErrWeakPassword):
		h.respondError(w, http.StatusBadRequest, codeWeakPassword, err.Error())
	default:
		LoggerFromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// validationMessage renders a validator error as a single caller-facing line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "email":
			parts = append(parts, fmt.Sprintf("%s must be a valid email address", field))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(parts, "; ")
}
