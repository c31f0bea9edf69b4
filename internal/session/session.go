// Package session resolves who is making a request and manages the cookies
// that carry that identity.
//
// Two client-side stores are used. The ephemeral session is a signed JWT in
// a browser-session cookie holding the user id, the session token (equal to
// the user's remember digest), the forwarding URL and the CSRF token. The
// persistent pair is an encrypted user id plus a plaintext remember token in
// long-lived cookies. Binding the session token to the remember digest means
// Forget invalidates every live session for that user.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/metrics"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Accounts is the slice of the account service the session layer needs.
// Satisfied by *account.Service.
type Accounts interface {
	FindByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	Authenticated(u *store.User, kind account.Kind, token string) bool
	Remember(ctx context.Context, u *store.User) (string, error)
	Forget(ctx context.Context, u *store.User) error
	SessionToken(ctx context.Context, u *store.User) (string, error)
}

// Config holds the cookie settings and the secret keys are derived from.
type Config struct {
	Secret []byte // SECRET_KEY_BASE, at least 32 bytes
	Domain string
	Secure bool
}

// minSecretLen is the shortest accepted SECRET_KEY_BASE.
const minSecretLen = 32

// Manager issues, reads, and clears session cookies. Safe for concurrent use.
type Manager struct {
	accounts  Accounts
	signKey   []byte
	cookieKey []byte
	domain    string
	secure    bool
}

// NewManager derives the signing and cookie-encryption keys from cfg.Secret.
func NewManager(accounts Accounts, cfg Config) (*Manager, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes, got %d", minSecretLen, len(cfg.Secret))
	}
	signKey, err := deriveKey(cfg.Secret, "murmur session signing")
	if err != nil {
		return nil, err
	}
	cookieKey, err := deriveKey(cfg.Secret, "murmur cookie encryption")
	if err != nil {
		return nil, err
	}
	return &Manager{
		accounts:  accounts,
		signKey:   signKey,
		cookieKey: cookieKey,
		domain:    cfg.Domain,
		secure:    cfg.Secure,
	}, nil
}

// DeriveKey returns a 32-byte key for purpose, derived from secret with HKDF-SHA256.
// Exposed so other subsystems (the mail queue) get keys independent of the session ones.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	return deriveKey(secret, purpose)
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", info, err)
	}
	return key, nil
}

// claims is the ephemeral session payload.
type claims struct {
	UserID       string `json:"uid,omitempty"`
	SessionToken string `json:"stk,omitempty"`
	ForwardURL   string `json:"fwd,omitempty"`
	CSRF         string `json:"csrf,omitempty"`
	jwt.RegisteredClaims
}

// state is the per-request view of the session. Load puts one in the request
// context so that several writes in one handler compose.
type state struct {
	claims   claims
	user     *store.User
	resolved bool
}

type stateKey struct{}

// CurrentUser returns the identity Load resolved for this request, or nil when anonymous.
func CurrentUser(ctx context.Context) *store.User {
	st, ok := ctx.Value(stateKey{}).(*state)
	if !ok {
		return nil
	}
	return st.user
}

// CSRFToken returns the CSRF token of the current session, empty when anonymous.
func CSRFToken(ctx context.Context) string {
	st, ok := ctx.Value(stateKey{}).(*state)
	if !ok || st.user == nil {
		return ""
	}
	return st.claims.CSRF
}

// state returns the request's session state, reading the cookie when Load has not run.
func (m *Manager) state(r *http.Request) *state {
	if st, ok := r.Context().Value(stateKey{}).(*state); ok {
		return st
	}
	return m.readState(r)
}

func (m *Manager) readState(r *http.Request) *state {
	st := &state{}
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return st
	}
	var parsed claims
	_, err = jwt.ParseWithClaims(c.Value, &parsed, func(*jwt.Token) (any, error) {
		return m.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		// Tampered or signed with an old secret: start over as anonymous.
		return st
	}
	st.claims = parsed
	return st
}

// save signs the session state into the ephemeral cookie.
func (m *Manager) save(w http.ResponseWriter, st *state) error {
	if st.claims.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating session id: %w", err)
		}
		st.claims.ID = id.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, st.claims).SignedString(m.signKey)
	if err != nil {
		return fmt.Errorf("signing session: %w", err)
	}
	m.setSessionCookie(w, signed)
	return nil
}

// Resolve returns the user behind the request, or nil when anonymous.
// The result is cached on the request for the rest of its lifetime.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) (*store.User, error) {
	st := m.state(r)
	if st.resolved {
		return st.user, nil
	}
	u, err := m.resolve(w, r, st)
	if err != nil {
		return nil, err
	}
	st.user = u
	st.resolved = true
	return u, nil
}

func (m *Manager) resolve(w http.ResponseWriter, r *http.Request, st *state) (*store.User, error) {
	ctx := r.Context()

	if st.claims.UserID != "" {
		id, err := uuid.FromString(st.claims.UserID)
		if err != nil {
			return nil, nil
		}
		u, err := m.lookup(ctx, id)
		if err != nil || u == nil {
			return nil, err
		}
		if !u.Activated || u.RememberDigest == nil || !equal(*u.RememberDigest, st.claims.SessionToken) {
			return nil, nil
		}
		return u, nil
	}

	id, token, ok := m.readRememberCookies(r)
	if !ok {
		return nil, nil
	}
	u, err := m.lookup(ctx, id)
	if err != nil || u == nil {
		return nil, err
	}
	if !u.Activated || !m.accounts.Authenticated(u, account.KindRemember, token) {
		return nil, nil
	}
	if err := m.Login(w, r, u); err != nil {
		return nil, err
	}
	metrics.Logins.WithLabelValues("remembered").Inc()
	return u, nil
}

// lookup loads a user, mapping "not found" to nil without error.
func (m *Manager) lookup(ctx context.Context, id uuid.UUID) (*store.User, error) {
	u, err := m.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading session user: %w", err)
	}
	return u, nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Login starts a fresh session for u under a new session id.
// Read any pending forwarding URL with ConsumeForwardingURL before calling Login.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, u *store.User) error {
	stk, err := m.accounts.SessionToken(r.Context(), u)
	if err != nil {
		return err
	}
	csrf, err := credential.NewToken()
	if err != nil {
		return err
	}

	st := m.state(r)
	// Drop the old session wholesale, id included.
	st.claims = claims{UserID: u.ID.String(), SessionToken: stk, CSRF: csrf}
	st.user = u
	st.resolved = true
	w.Header().Set(CSRFHeader, csrf)
	return m.save(w, st)
}

// Remember issues a persistent-login token for u and writes the cookie pair.
func (m *Manager) Remember(w http.ResponseWriter, r *http.Request, u *store.User) error {
	token, err := m.accounts.Remember(r.Context(), u)
	if err != nil {
		return err
	}
	sealedID, err := m.sealUserID(u.ID)
	if err != nil {
		return err
	}
	m.setPersistentCookie(w, UserIDCookie, sealedID)
	m.setPersistentCookie(w, RememberCookie, token)

	// The digest changed; keep an already-open session for u bound to it.
	st := m.state(r)
	if st.claims.UserID == u.ID.String() && u.RememberDigest != nil {
		st.claims.SessionToken = *u.RememberDigest
		return m.save(w, st)
	}
	return nil
}

// Forget clears u's persistent login server side and removes the cookie pair.
func (m *Manager) Forget(w http.ResponseWriter, r *http.Request, u *store.User) error {
	if err := m.accounts.Forget(r.Context(), u); err != nil {
		return err
	}
	m.clearPersistentCookies(w)
	return nil
}

// Logout forgets the current user, if any, and ends the session. Safe to call when anonymous.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	u, err := m.Resolve(w, r)
	if err != nil {
		return err
	}
	if u != nil {
		if err := m.Forget(w, r, u); err != nil {
			return err
		}
	}
	m.clearPersistentCookies(w)
	m.clearSessionCookie(w)
	w.Header().Del(CSRFHeader)

	st := m.state(r)
	st.claims = claims{}
	st.user = nil
	st.resolved = true
	return nil
}

// StoreForwardingURL remembers the requested URL so login can return to it. GET only.
func (m *Manager) StoreForwardingURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		return
	}
	st := m.state(r)
	st.claims.ForwardURL = r.URL.RequestURI()
	if err := m.save(w, st); err != nil {
		slog.Error("storing forwarding url", "error", err)
	}
}

// ConsumeForwardingURL returns the pending forwarding URL and clears it.
// Empty means no URL was pending.
func (m *Manager) ConsumeForwardingURL(w http.ResponseWriter, r *http.Request) string {
	st := m.state(r)
	fwd := st.claims.ForwardURL
	if fwd == "" {
		return ""
	}
	st.claims.ForwardURL = ""
	if err := m.save(w, st); err != nil {
		slog.Error("clearing forwarding url", "error", err)
	}
	return fwd
}
