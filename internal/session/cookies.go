// cookies.go -- cookie names, attributes, and the encrypted user id.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SessionCookie carries the signed ephemeral session.
	SessionCookie = "_murmur_session"
	// UserIDCookie carries the encrypted user id of the persistent pair.
	UserIDCookie = "user_id"
	// RememberCookie carries the plaintext remember token of the persistent pair.
	RememberCookie = "remember_token"
)

// persistentMaxAge is twenty years.
const persistentMaxAge = int(20 * 365 * 24 * time.Hour / time.Second)

// setCookie adds c to the response, replacing any Set-Cookie for the same name
// written earlier in this request.
func setCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	prefix := c.Name + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	if v := c.String(); v != "" {
		h.Add("Set-Cookie", v)
	}
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   m.domain,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// setSessionCookie writes the session with no MaxAge, so it dies with the browser session.
func (m *Manager) setSessionCookie(w http.ResponseWriter, value string) {
	setCookie(w, m.cookie(SessionCookie, value, 0))
}

func (m *Manager) clearSessionCookie(w http.ResponseWriter) {
	setCookie(w, m.cookie(SessionCookie, "", -1))
}

func (m *Manager) setPersistentCookie(w http.ResponseWriter, name, value string) {
	setCookie(w, m.cookie(name, value, persistentMaxAge))
}

func (m *Manager) clearPersistentCookies(w http.ResponseWriter) {
	setCookie(w, m.cookie(UserIDCookie, "", -1))
	setCookie(w, m.cookie(RememberCookie, "", -1))
}

// sealUserID encrypts id as base64url(nonce || ciphertext).
func (m *Manager) sealUserID(id uuid.UUID) (string, error) {
	aead, err := chacha20poly1305.NewX(m.cookieKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+uuid.Size+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, id.Bytes(), []byte(UserIDCookie))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// openUserID reverses sealUserID.
func (m *Manager) openUserID(value string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return uuid.Nil, err
	}
	aead, err := chacha20poly1305.NewX(m.cookieKey)
	if err != nil {
		return uuid.Nil, err
	}
	if len(raw) < aead.NonceSize() {
		return uuid.Nil, errors.New("sealed user id too short")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], []byte(UserIDCookie))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(plain)
}

// readRememberCookies returns the persistent pair when both cookies are present and the id opens.
func (m *Manager) readRememberCookies(r *http.Request) (uuid.UUID, string, bool) {
	idCookie, err := r.Cookie(UserIDCookie)
	if err != nil || idCookie.Value == "" {
		return uuid.Nil, "", false
	}
	tokenCookie, err := r.Cookie(RememberCookie)
	if err != nil || tokenCookie.Value == "" {
		return uuid.Nil, "", false
	}
	id, err := m.openUserID(idCookie.Value)
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, tokenCookie.Value, true
}
