package http

import (
	"net/http"

	"github.com/agendasalud/authd/internal/service"
)

// externalLoginRequest is the JSON body for POST /external-auth/login.
// The provider and providerId pair identifies the external account; the
// caller is expected to have verified the assertion upstream.
type externalLoginRequest struct {
	Provider   string `json:"provider" validate:"required"`
	ProviderID string `json:"providerId" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	FullName   string `json:"fullName"`
}

// handleExternalLogin resolves an external identity to a local session,
// linking or creating an account as needed.
// POST /external-auth/login
func (h *Handler) handleExternalLogin(w http.ResponseWriter, r *http.Request) {
	var req externalLoginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.external.LoginOrRegister(r.Context(), service.ExternalLoginInput{
		Provider:   req.Provider,
		ExternalID: req.ProviderID,
		Email:      req.Email,
		FullName:   req.FullName,
		Meta:       requestMeta(r),
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
