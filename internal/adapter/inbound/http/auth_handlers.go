package http

import (
	"errors"
	"net/http"

	"github.com/agendasalud/authd/internal/service"
)

// registerRequest is the JSON body for POST /auth/register.
type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"fullName" validate:"required"`
	RoleName string `json:"roleName" validate:"required"`
}

// loginRequest is the JSON body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// handleRegister creates a new account and returns a session for it.
// POST /auth/register
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		RoleName: req.RoleName,
		Meta:     requestMeta(r),
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssued.Inc()
	}
	h.respondData(w, http.StatusOK, "user registered", session)
}

// handleLogin authenticates an email and password and returns a session.
// POST /auth/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Meta:     requestMeta(r),
	})
	if err != nil {
		h.countLogin(loginResult(err))
		h.respondServiceError(w, r, err)
		return
	}

	h.countLogin("success")
	if h.metrics != nil {
		h.metrics.TokensIssued.Inc()
	}
	h.respondData(w, http.StatusOK, "login successful", session)
}

// handleMe returns the session for the bearer token on the request.
// GET /auth/me
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		h.respondError(w, http.StatusUnauthorized, codeInvalidToken, "missing bearer token")
		return
	}

	session, err := h.auth.GetCurrentUser(r.Context(), raw)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, "authenticated", session)
}

// handleValidateToken reports whether the bearer token on the request is
// still acceptable, re-reading the account's current standing.
// GET /auth/validate-token
func (h *Handler) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		h.respondError(w, http.StatusUnauthorized, codeInvalidToken, "missing bearer token")
		return
	}

	validation, err := h.auth.ValidateToken(r.Context(), raw)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if !validation.IsValid {
		h.respondJSON(w, http.StatusUnauthorized, envelope{
			Success:   false,
			Message:   "token is not valid",
			Data:      validation,
			ErrorCode: codeInvalidToken,
		})
		return
	}
	h.respondData(w, http.StatusOK, "token is valid", validation)
}

// countLogin records a login attempt outcome.
func (h *Handler) countLogin(result string) {
	if h.metrics != nil {
		h.metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}

// loginResult maps a login error to a metric label value.
func loginResult(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid"
	case errors.Is(err, service.ErrAccountLocked):
		return "locked"
	case errors.Is(err, service.ErrAccountInactive):
		return "inactive"
	default:
		return "error"
	}
}
