// links_handler.go -- Emailed-link endpoints: account activation and password reset.
package auth

import (
	"errors"
	"net/http"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/go-chi/chi/v5"
)

// linkParams returns the {token} URL param and the email query param.
func linkParams(r *http.Request) (token, email string) {
	return chi.URLParam(r, "token"), r.URL.Query().Get("email")
}

// EditActivation handles GET /account_activations/{token}/edit?email=.
// Activates the account and logs the user in; 400 for any bad link.
func (h *Handler) EditActivation(w http.ResponseWriter, r *http.Request) {
	token, email := linkParams(r)
	u, err := h.Accounts.ActivateByLink(r.Context(), email, token)
	if err != nil {
		if errors.Is(err, account.ErrInvalidLink) {
			logInfo(r, "activation link rejected")
			BadRequest(w, "invalid activation link")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	if err := h.Sessions.Login(w, r, u); err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "account activated", "activated_user_id", u.ID)
	SeeOther(w, userPath(u.ID), loggedIn(r, u, "Account activated!"))
}

// CreatePasswordReset handles POST /password_resets.
// Always answers with the same message so the endpoint can't be used to probe for accounts.
func (h *Handler) CreatePasswordReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email        string `json:"email"`
		CaptchaToken string `json:"captcha_token"`
	}
	if !decode(w, r, &in) {
		return
	}
	if !h.passCaptcha(w, r, in.CaptchaToken) {
		return
	}
	if err := h.Accounts.RequestReset(r.Context(), in.Email); err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			InternalServerError(w, r, err)
			return
		}
		logInfo(r, "password reset requested for unknown email")
	}
	OK(w, "Email sent with password reset instructions")
}

// resetLinkError answers for a rejected reset link. Returns false if err is not a link error.
func resetLinkError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, account.ErrInvalidLink):
		logInfo(r, "reset link rejected", "reason", "invalid")
		BadRequest(w, "invalid reset link")
	case errors.Is(err, account.ErrExpiredToken):
		logInfo(r, "reset link rejected", "reason", "expired")
		Gone(w, "Password reset has expired.")
	default:
		return false
	}
	return true
}

// EditPasswordReset handles GET /password_resets/{token}/edit?email=.
// 200 if the link may still be used.
func (h *Handler) EditPasswordReset(w http.ResponseWriter, r *http.Request) {
	token, email := linkParams(r)
	u, err := h.Accounts.CheckResetLink(r.Context(), email, token)
	if err != nil {
		if !resetLinkError(w, r, err) {
			InternalServerError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "reset link valid",
		"email":   u.Email,
	})
}

// UpdatePasswordReset handles PATCH /password_resets/{token}?email=.
// Sets the new password, spends the link, and starts a fresh session.
func (h *Handler) UpdatePasswordReset(w http.ResponseWriter, r *http.Request) {
	var in account.ResetInput
	if !decode(w, r, &in) {
		return
	}

	token, email := linkParams(r)
	u, err := h.Accounts.CompleteReset(r.Context(), email, token, in)
	if err != nil {
		var verr *account.ValidationError
		if errors.As(err, &verr) {
			Unprocessable(w, verr)
			return
		}
		if !resetLinkError(w, r, err) {
			InternalServerError(w, r, err)
		}
		return
	}

	if err := h.Sessions.Login(w, r, u); err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "password reset completed", "reset_user_id", u.ID)
	SeeOther(w, userPath(u.ID), loggedIn(r, u, "Password has been reset."))
}
