// handler.go -- Handler dependencies, shared request helpers, and the
// signup/login/logout endpoints.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/session"
	"github.com/MGallo-Code/murmur/internal/social"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for every HTTP endpoint.
type Handler struct {
	Accounts *account.Service
	Social   *social.Service
	Sessions *session.Manager

	// Checks are pinged by /health, keyed by dependency name.
	Checks map[string]HealthChecker

	// Captcha guards signup and reset requests when set.
	Captcha CaptchaVerifier
}

// decode reads a JSON body into dst. Returns false after answering 400.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, "error decoding request body")
		return false
	}
	return true
}

// parsePage reads limit and offset from the query string. Bad values fall back to defaults.
func parsePage(r *http.Request) store.Page {
	var p store.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Limit = n
		} else {
			logDebug(r, "ignoring bad limit", "value", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Offset = n
		} else {
			logDebug(r, "ignoring bad offset", "value", v)
		}
	}
	return p.Normalize()
}

// urlID parses the named chi URL param as a UUID. Returns false after answering 404.
func urlID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, name))
	if err != nil {
		NotFound(w)
		return uuid.Nil, false
	}
	return id, true
}

// userPath is the profile location redirects point at.
func userPath(id uuid.UUID) string {
	return "/users/" + id.String()
}

// loggedIn is the body returned with every successful login-like redirect.
func loggedIn(r *http.Request, u *store.User, message string) map[string]string {
	return map[string]string{
		"message":    message,
		"user_id":    u.ID.String(),
		"csrf_token": session.CSRFToken(r.Context()),
	}
}

// Signup handles POST /signup.
// Returns 201 with user_id; the account stays inactive until the mailed link is followed.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		account.SignupInput
		CaptchaToken string `json:"captcha_token"`
	}
	if !decode(w, r, &in) {
		return
	}
	if !h.passCaptcha(w, r, in.CaptchaToken) {
		return
	}

	u, err := h.Accounts.Signup(r.Context(), in.SignupInput)
	if err != nil {
		var verr *account.ValidationError
		if errors.As(err, &verr) {
			logInfo(r, "signup rejected", "fields", len(verr.Errors))
			Unprocessable(w, verr)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user signed up", "new_user_id", u.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Please check your email to activate your account.",
		"user_id": u.ID.String(),
	})
}

// Login handles POST /login.
// Redirects (303) to the pending forwarding URL or the user's profile; 401 on bad credentials.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}
	if !decode(w, r, &in) {
		return
	}

	u, err := h.Accounts.LogIn(r.Context(), in.Email, in.Password)
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		logInfo(r, "login rejected", "reason", "invalid_credentials")
		Unauthorized(w, "invalid credentials")
		return
	case errors.Is(err, account.ErrNotActivated):
		logInfo(r, "login rejected", "reason", "not_activated")
		Unauthorized(w, "account not activated")
		return
	case err != nil:
		InternalServerError(w, r, err)
		return
	}

	// Read the forwarding URL before Login discards the old session.
	dest := h.Sessions.ConsumeForwardingURL(w, r)
	if dest == "" {
		dest = userPath(u.ID)
	}
	if in.RememberMe {
		if err := h.Sessions.Remember(w, r, u); err != nil {
			InternalServerError(w, r, err)
			return
		}
	}
	if err := h.Sessions.Login(w, r, u); err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user logged in", "logged_in_user_id", u.ID, "remember_me", in.RememberMe)
	SeeOther(w, dest, loggedIn(r, u, "logged in"))
}

// Logout handles DELETE /logout. Safe to repeat.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Logout(w, r); err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "user logged out")
	SeeOther(w, "/", map[string]string{"message": "logged out"})
}
