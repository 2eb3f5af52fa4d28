package http

import (
	"net/http"
)

// requestResetRequest is the JSON body for POST /password/request-reset.
type requestResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// changePasswordRequest is the JSON body for POST /password/change.
type changePasswordRequest struct {
	ResetToken  string `json:"resetToken" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// handleRequestReset starts a password reset. The response does not reveal
// whether an account exists for the email.
// POST /password/request-reset
func (h *Handler) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req requestResetRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.passwords.RequestReset(r.Context(), req.Email, requestMeta(r)); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ResetRequests.Inc()
	}
	h.respondData(w, http.StatusOK, "if the account exists, a reset token has been issued", nil)
}

// handleChangePassword consumes a reset token and sets the new password.
// POST /password/change
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.passwords.ChangePassword(r.Context(), req.ResetToken, req.NewPassword, requestMeta(r)); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.PasswordChanges.Inc()
	}
	h.respondData(w, http.StatusOK, "password changed", nil)
}
