// middleware.go -- Load, RequireUser, and RequireCSRF.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeMessage answers with {"message": msg}.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// Load resolves the request's identity once and stores it in the context for
// CurrentUser and the session methods. Store failures answer 500.
// Authenticated responses carry the session CSRF token in X-CSRF-Token.
func (m *Manager) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := m.readState(r)
		r = r.WithContext(context.WithValue(r.Context(), stateKey{}, st))
		u, err := m.Resolve(w, r)
		if err != nil {
			slog.Error("resolving session", "method", r.Method, "path", r.URL.Path, "error", err)
			writeMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		// Echo the CSRF token so clients restored from the remember cookie can learn it.
		if u != nil {
			w.Header().Set(CSRFHeader, st.claims.CSRF)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser sends anonymous requests to /login with 303, remembering GET targets
// so login can return there.
func (m *Manager) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r.Context()) == nil {
			m.StoreForwardingURL(w, r)
			w.Header().Set("Location", "/login")
			writeMessage(w, http.StatusSeeOther, "Please log in.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CSRFHeader carries the session CSRF token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// RequireCSRF rejects authenticated state-changing requests whose X-CSRF-Token
// does not match the session. Anonymous requests pass through.
func (m *Manager) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if CurrentUser(r.Context()) != nil {
			want := CSRFToken(r.Context())
			if want == "" || !equal(r.Header.Get(CSRFHeader), want) {
				slog.Warn("csrf check failed", "method", r.Method, "path", r.URL.Path)
				writeMessage(w, http.StatusForbidden, "forbidden")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
