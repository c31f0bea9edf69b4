// handler_test.go
//
// unit tests for the signup, login, and logout handlers plus shared test helpers.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/captcha"
	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/session"
	"github.com/MGallo-Code/murmur/internal/social"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/MGallo-Code/murmur/internal/testutil"
	"github.com/go-chi/chi/v5"
)

// --- Helper Functions ---

const testPassword = "password123"

var testSecret = []byte("test-secret-key-base-that-is-at-least-32-bytes")

type env struct {
	h    *Handler
	db   *testutil.MockStore
	mail *testutil.RecordingMailer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hasher, err := credential.NewHasher(credential.MinParams)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	db := testutil.NewMockStore()
	mailer := &testutil.RecordingMailer{}
	accounts := account.NewService(db, hasher, mailer)
	sessions, err := session.NewManager(accounts, session.Config{Secret: testSecret, Secure: true})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &env{
		h: &Handler{
			Accounts: accounts,
			Social:   social.NewService(db),
			Sessions: sessions,
		},
		db:   db,
		mail: mailer,
	}
}

// mustUser creates a user with testPassword; activated controls the activation flag.
func (e *env) mustUser(t *testing.T, name, email string, activated bool) *store.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := e.h.Accounts.Create(ctx, account.SignupInput{
		Name: name, Email: email, Password: testPassword, PasswordConfirmation: testPassword,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if activated {
		if err := e.h.Accounts.Activate(ctx, u); err != nil {
			t.Fatalf("Activate: %v", err)
		}
	}
	return u
}

// client is a cookie jar plus the CSRF token last handed out.
type client struct {
	cookies map[string]string
	csrf    string
}

func newClient() *client { return &client{cookies: map[string]string{}} }

func (c *client) absorb(w *httptest.ResponseRecorder) {
	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
	if tok := w.Header().Get(session.CSRFHeader); tok != "" {
		c.csrf = tok
	}
}

// serve routes a single request through Load and a chi router holding pattern.
func (e *env) serve(c *client, method, pattern, target, body string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(e.h.Sessions.Load)
	r.Method(method, pattern, fn)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	c.absorb(w)
	return w
}

// loginAs logs c in through the Login handler.
func (e *env) loginAs(t *testing.T, c *client, email string) {
	t.Helper()
	w := e.serve(c, http.MethodPost, "/login", "/login",
		`{"email":"`+email+`","password":"`+testPassword+`"}`, e.h.Login)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("login: expected 303, got %d: %s", w.Code, w.Body.String())
	}
}

// whoami returns the user the client's cookies resolve to, or nil.
func (e *env) whoami(c *client) *store.User {
	var got *store.User
	e.serve(c, http.MethodGet, "/", "/", "", func(w http.ResponseWriter, r *http.Request) {
		got = session.CurrentUser(r.Context())
	})
	return got
}

// decodeBody unmarshals the JSON response body into a generic map.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body %q: %v", w.Body.String(), err)
	}
	return body
}

// assertMessage checks status, JSON content type, and {"message": msg}.
func assertMessage(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status: expected %d, got %d (%s)", status, w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	if got := decodeBody(t, w)["message"]; got != msg {
		t.Errorf("message: expected %q, got %v", msg, got)
	}
}

// assertSeeOther checks a 303 to location.
func assertSeeOther(t *testing.T, w *httptest.ResponseRecorder, location string) {
	t.Helper()
	if w.Code != http.StatusSeeOther {
		t.Errorf("status: expected 303, got %d (%s)", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != location {
		t.Errorf("Location: expected %q, got %q", location, got)
	}
}

// assertFieldError checks a 422 response naming message among its errors.
func assertFieldError(t *testing.T, w *httptest.ResponseRecorder, msg string) {
	t.Helper()
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: expected 422, got %d (%s)", w.Code, w.Body.String())
	}
	var body struct {
		Errors []account.FieldError `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	for _, fe := range body.Errors {
		if fe.Message == msg {
			return
		}
	}
	t.Errorf("expected error %q in %+v", msg, body.Errors)
}

// --- Signup ---

func TestSignup(t *testing.T) {
	valid := `{"name":"Example User","email":"user@example.com","password":"password123","password_confirmation":"password123"}`

	t.Run("valid signup creates inactive user and mails activation link", func(t *testing.T) {
		e := newEnv(t)
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup", valid, e.h.Signup)

		assertMessage(t, w, http.StatusCreated, "Please check your email to activate your account.")
		u, err := e.h.Accounts.FindByEmail(context.Background(), "user@example.com")
		if err != nil {
			t.Fatalf("user not stored: %v", err)
		}
		if u.Activated {
			t.Error("new user should not be activated")
		}
		if decodeBody(t, w)["user_id"] != u.ID.String() {
			t.Error("body should carry the new user id")
		}
		if _, ok := e.mail.Last("activation"); !ok {
			t.Error("activation mail not sent")
		}
	})

	t.Run("invalid fields return 422", func(t *testing.T) {
		e := newEnv(t)
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup",
			`{"name":"","email":"user@invalid","password":"foo","password_confirmation":"bar"}`, e.h.Signup)

		assertFieldError(t, w, "Name can't be blank")
		assertFieldError(t, w, "Email is invalid")
		if len(e.db.Users) != 0 {
			t.Error("invalid signup should not store a user")
		}
	})

	t.Run("duplicate email returns 422", func(t *testing.T) {
		e := newEnv(t)
		e.mustUser(t, "First", "USER@example.com", true)
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup", valid, e.h.Signup)
		assertFieldError(t, w, "Email has already been taken")
	})

	t.Run("malformed JSON returns 400", func(t *testing.T) {
		e := newEnv(t)
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup", `{"name":`, e.h.Signup)
		assertMessage(t, w, http.StatusBadRequest, "error decoding request body")
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		e := newEnv(t)
		e.db.CreateUserErr = errors.New("connection refused")
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup", valid, e.h.Signup)
		assertMessage(t, w, http.StatusInternalServerError, "internal server error")
	})
}

// --- Login ---

func TestLogin(t *testing.T) {
	t.Run("valid credentials redirect to profile and start a session", func(t *testing.T) {
		e := newEnv(t)
		u := e.mustUser(t, "Example", "user@example.com", true)
		c := newClient()

		w := e.serve(c, http.MethodPost, "/login", "/login",
			`{"email":"user@example.com","password":"password123"}`, e.h.Login)

		assertSeeOther(t, w, "/users/"+u.ID.String())
		body := decodeBody(t, w)
		if body["user_id"] != u.ID.String() {
			t.Errorf("user_id: expected %s, got %v", u.ID, body["user_id"])
		}
		if body["csrf_token"] == "" || body["csrf_token"] != c.csrf {
			t.Error("csrf_token should be returned in body and header")
		}
		if c.cookies[session.SessionCookie] == "" {
			t.Fatal("session cookie not set")
		}
		if _, ok := c.cookies[session.RememberCookie]; ok {
			t.Error("remember cookie set without remember_me")
		}
		if got := e.whoami(c); got == nil || got.ID != u.ID {
			t.Error("session should resolve to the user")
		}
	})

	t.Run("remember_me sets persistent cookies", func(t *testing.T) {
		e := newEnv(t)
		u := e.mustUser(t, "Example", "user@example.com", true)
		c := newClient()

		e.serve(c, http.MethodPost, "/login", "/login",
			`{"email":"user@example.com","password":"password123","remember_me":true}`, e.h.Login)

		if c.cookies[session.RememberCookie] == "" || c.cookies[session.UserIDCookie] == "" {
			t.Fatal("persistent cookies not set")
		}
		restarted := newClient()
		restarted.cookies[session.RememberCookie] = c.cookies[session.RememberCookie]
		restarted.cookies[session.UserIDCookie] = c.cookies[session.UserIDCookie]
		if got := e.whoami(restarted); got == nil || got.ID != u.ID {
			t.Error("persistent cookies should restore the session")
		}
		if got := e.whoami(c); got == nil || got.ID != u.ID {
			t.Error("original session should survive the remember step")
		}
	})

	t.Run("returns to the forwarding URL", func(t *testing.T) {
		e := newEnv(t)
		e.mustUser(t, "Example", "user@example.com", true)
		c := newClient()
		e.serve(c, http.MethodGet, "/feed", "/feed?limit=5", "", func(w http.ResponseWriter, r *http.Request) {
			e.h.Sessions.StoreForwardingURL(w, r)
		})

		w := e.serve(c, http.MethodPost, "/login", "/login",
			`{"email":"user@example.com","password":"password123"}`, e.h.Login)
		assertSeeOther(t, w, "/feed?limit=5")

		// Consumed: a second login goes to the profile.
		w = e.serve(c, http.MethodPost, "/login", "/login",
			`{"email":"user@example.com","password":"password123"}`, e.h.Login)
		if w.Header().Get("Location") == "/feed?limit=5" {
			t.Error("forwarding URL should be used once")
		}
	})

	t.Run("wrong password returns 401", func(t *testing.T) {
		e := newEnv(t)
		e.mustUser(t, "Example", "user@example.com", true)
		c := newClient()
		w := e.serve(c, http.MethodPost, "/login", "/login",
			`{"email":"user@example.com","password":"wrong-password"}`, e.h.Login)

		assertMessage(t, w, http.StatusUnauthorized, "invalid credentials")
		if c.cookies[session.SessionCookie] != "" {
			t.Error("no session cookie on failed login")
		}
	})

	t.Run("unknown email returns the same 401", func(t *testing.T) {
		e := newEnv(t)
		w := e.serve(newClient(), http.MethodPost, "/login", "/login",
			`{"email":"nobody@example.com","password":"password123"}`, e.h.Login)
		assertMessage(t, w, http.StatusUnauthorized, "invalid credentials")
	})

	t.Run("unactivated account returns 401", func(t *testing.T) {
		e := newEnv(t)
		e.mustUser(t, "Example", "user@example.com", false)
		c := newClient()
		w := e.serve(c, http.MethodPost, "/login", "/login",
			`{"email":"user@example.com","password":"password123"}`, e.h.Login)

		assertMessage(t, w, http.StatusUnauthorized, "account not activated")
		if e.whoami(c) != nil {
			t.Error("unactivated user should not be logged in")
		}
	})

	t.Run("malformed JSON returns 400", func(t *testing.T) {
		e := newEnv(t)
		w := e.serve(newClient(), http.MethodPost, "/login", "/login", `nope`, e.h.Login)
		assertMessage(t, w, http.StatusBadRequest, "error decoding request body")
	})
}

// --- Logout ---

func TestLogout(t *testing.T) {
	t.Run("clears the session and persistent login", func(t *testing.T) {
		e := newEnv(t)
		u := e.mustUser(t, "Example", "user@example.com", true)
		c := newClient()
		e.serve(c, http.MethodPost, "/login", "/login",
			`{"email":"user@example.com","password":"password123","remember_me":true}`, e.h.Login)

		w := e.serve(c, http.MethodDelete, "/logout", "/logout", "", e.h.Logout)

		assertSeeOther(t, w, "/")
		if len(c.cookies) != 0 {
			t.Errorf("all cookies should be cleared, still have %v", c.cookies)
		}
		if e.db.User(u.ID).RememberDigest != nil {
			t.Error("remember digest should be cleared")
		}
		if e.whoami(c) != nil {
			t.Error("should be anonymous after logout")
		}
	})

	t.Run("second logout is harmless", func(t *testing.T) {
		e := newEnv(t)
		e.mustUser(t, "Example", "user@example.com", true)
		c := newClient()
		e.loginAs(t, c, "user@example.com")

		e.serve(c, http.MethodDelete, "/logout", "/logout", "", e.h.Logout)
		w := e.serve(c, http.MethodDelete, "/logout", "/logout", "", e.h.Logout)
		assertSeeOther(t, w, "/")
	})

	t.Run("replayed session cookie is rejected after logout", func(t *testing.T) {
		e := newEnv(t)
		e.mustUser(t, "Example", "user@example.com", true)
		c := newClient()
		e.loginAs(t, c, "user@example.com")
		stolen := c.cookies[session.SessionCookie]

		e.serve(c, http.MethodDelete, "/logout", "/logout", "", e.h.Logout)

		replay := newClient()
		replay.cookies[session.SessionCookie] = stolen
		if e.whoami(replay) != nil {
			t.Error("old session cookie should not authenticate")
		}
	})
}

// --- Health ---

type stubCheck struct{ err error }

func (s stubCheck) CheckHealth(context.Context) error { return s.err }

func TestCheckHealth(t *testing.T) {
	t.Run("all healthy returns 200", func(t *testing.T) {
		e := newEnv(t)
		e.h.Checks = map[string]HealthChecker{"postgres": stubCheck{}, "redis": stubCheck{}}
		w := e.serve(newClient(), http.MethodGet, "/health", "/health", "", e.h.CheckHealth)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if body["status"] != "ok" || body["postgres"] != "ok" || body["redis"] != "ok" {
			t.Errorf("unexpected body %v", body)
		}
	})

	t.Run("failing dependency returns 503", func(t *testing.T) {
		e := newEnv(t)
		e.h.Checks = map[string]HealthChecker{"postgres": stubCheck{}, "redis": stubCheck{errors.New("down")}}
		w := e.serve(newClient(), http.MethodGet, "/health", "/health", "", e.h.CheckHealth)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if body["redis"] != "error" || body["postgres"] != "ok" {
			t.Errorf("unexpected body %v", body)
		}
	})
}

// --- Captcha ---

type stubCaptcha struct {
	err       error
	gotToken  string
	gotRemote string
}

func (s *stubCaptcha) Verify(_ context.Context, token, remoteIP string) error {
	s.gotToken, s.gotRemote = token, remoteIP
	return s.err
}

func TestCaptcha(t *testing.T) {
	signup := `{"name":"Example User","email":"user@example.com","password":"password123","password_confirmation":"password123","captcha_token":"tok"}`

	t.Run("accepted token lets signup through", func(t *testing.T) {
		e := newEnv(t)
		stub := &stubCaptcha{}
		e.h.Captcha = stub
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup", signup, e.h.Signup)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		if stub.gotToken != "tok" || stub.gotRemote != "192.0.2.1" {
			t.Errorf("verifier got token %q remote %q", stub.gotToken, stub.gotRemote)
		}
	})

	t.Run("rejected token returns 400 and creates nothing", func(t *testing.T) {
		e := newEnv(t)
		e.h.Captcha = &stubCaptcha{err: fmt.Errorf("%w: [timeout-or-duplicate]", captcha.ErrRejected)}
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup", signup, e.h.Signup)

		assertMessage(t, w, http.StatusBadRequest, "captcha verification failed")
		if len(e.db.Users) != 0 {
			t.Error("no user should be created")
		}
	})

	t.Run("verifier outage returns 500", func(t *testing.T) {
		e := newEnv(t)
		e.h.Captcha = &stubCaptcha{err: errors.New("dial tcp: timeout")}
		w := e.serve(newClient(), http.MethodPost, "/signup", "/signup", signup, e.h.Signup)
		assertMessage(t, w, http.StatusInternalServerError, "internal server error")
	})

	t.Run("reset request is guarded too", func(t *testing.T) {
		e := newEnv(t)
		e.mustUser(t, "Example", "user@example.com", true)
		e.h.Captcha = &stubCaptcha{err: captcha.ErrRejected}
		w := e.serve(newClient(), http.MethodPost, "/password_resets", "/password_resets",
			`{"email":"user@example.com"}`, e.h.CreatePasswordReset)

		assertMessage(t, w, http.StatusBadRequest, "captcha verification failed")
		if len(e.mail.Sent) != 0 {
			t.Error("no reset mail should be sent")
		}
	})
}
