package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MGallo-Code/murmur/internal/account"
	"github.com/MGallo-Code/murmur/internal/credential"
	"github.com/MGallo-Code/murmur/internal/store"
	"github.com/MGallo-Code/murmur/internal/testutil"
	"github.com/gofrs/uuid/v5"
)

// --- Helpers ---

var testSecret = []byte("test-secret-key-base-that-is-at-least-32-bytes")

type fixture struct {
	m   *Manager
	svc *account.Service
	db  *testutil.MockStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h, err := credential.NewHasher(credential.MinParams)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	db := testutil.NewMockStore()
	svc := account.NewService(db, h, &testutil.RecordingMailer{})
	m, err := NewManager(svc, Config{Secret: testSecret, Secure: true})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &fixture{m: m, svc: svc, db: db}
}

// mustUser creates a user; activated controls the activation flag.
func (f *fixture) mustUser(t *testing.T, email string, activated bool) *store.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := f.svc.Create(ctx, account.SignupInput{Name: "Test", Email: email, Password: "foobar123", PasswordConfirmation: "foobar123"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if activated {
		if err := f.svc.Activate(ctx, u); err != nil {
			t.Fatalf("Activate: %v", err)
		}
	}
	return u
}

// jar is a minimal browser cookie store.
type jar map[string]string

// absorb applies the response's Set-Cookie headers.
func (j jar) absorb(w *httptest.ResponseRecorder) {
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(j, c.Name)
			continue
		}
		j[c.Name] = c.Value
	}
}

func (j jar) request(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for name, value := range j {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return r
}

// do runs h behind Load with the jar's cookies, then absorbs the response cookies.
func (f *fixture) do(j jar, method, target string, h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.m.Load(h).ServeHTTP(w, j.request(method, target))
	j.absorb(w)
	return w
}

// whoami returns the resolved user for a GET with the jar's cookies.
func (f *fixture) whoami(j jar) *store.User {
	var got *store.User
	f.do(j, http.MethodGet, "/", func(w http.ResponseWriter, r *http.Request) {
		got = CurrentUser(r.Context())
	})
	return got
}

func (f *fixture) login(t *testing.T, j jar, u *store.User, remember bool) {
	t.Helper()
	f.do(j, http.MethodPost, "/login", func(w http.ResponseWriter, r *http.Request) {
		if remember {
			if err := f.m.Remember(w, r, u); err != nil {
				t.Fatalf("Remember: %v", err)
			}
		}
		if err := f.m.Login(w, r, u); err != nil {
			t.Fatalf("Login: %v", err)
		}
	})
}

// --- Tests ---

func TestNewManager_ShortSecret(t *testing.T) {
	if _, err := NewManager(nil, Config{Secret: []byte("too-short")}); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestLogin_ResolvesOnNextRequest(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}

	if got := f.whoami(j); got != nil {
		t.Fatalf("expected anonymous before login, got %v", got.ID)
	}
	f.login(t, j, u, false)

	if _, ok := j[SessionCookie]; !ok {
		t.Fatal("session cookie not set")
	}
	if _, ok := j[RememberCookie]; ok {
		t.Error("remember cookie should not be set without remember me")
	}
	got := f.whoami(j)
	if got == nil || got.ID != u.ID {
		t.Fatalf("expected user %v, got %v", u.ID, got)
	}
}

func TestLogin_MintsNewSessionID(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}

	// Anonymous session with a forwarding URL gets an id first.
	f.do(j, http.MethodGet, "/users?page=2", func(w http.ResponseWriter, r *http.Request) {
		f.m.StoreForwardingURL(w, r)
	})
	before := f.m.readState(j.request(http.MethodGet, "/")).claims.ID
	if before == "" {
		t.Fatal("anonymous session should carry an id")
	}

	f.login(t, j, u, false)
	after := f.m.readState(j.request(http.MethodGet, "/")).claims
	if after.ID == "" || after.ID == before {
		t.Errorf("session id should change on login: before %q after %q", before, after.ID)
	}
	if after.ForwardURL != "" {
		t.Error("login should discard the old session contents")
	}
}

func TestForget_InvalidatesLiveSessions(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	laptop, phone := jar{}, jar{}
	f.login(t, laptop, u, false)
	f.login(t, phone, u, false)

	if f.whoami(phone) == nil {
		t.Fatal("phone should be logged in")
	}
	if err := f.svc.Forget(context.Background(), u); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if got := f.whoami(laptop); got != nil {
		t.Error("replayed session cookie should be rejected after Forget")
	}
	if got := f.whoami(phone); got != nil {
		t.Error("every session should be rejected after Forget")
	}
}

func TestRemember_RestoresSessionInNewBrowser(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}
	f.login(t, j, u, true)

	if j[UserIDCookie] == "" || j[RememberCookie] == "" {
		t.Fatal("persistent cookies not set")
	}
	if strings.Contains(j[UserIDCookie], u.ID.String()) {
		t.Error("user id cookie should be encrypted")
	}

	// Browser restart: session cookie gone, persistent pair survives.
	restarted := jar{UserIDCookie: j[UserIDCookie], RememberCookie: j[RememberCookie]}
	got := f.whoami(restarted)
	if got == nil || got.ID != u.ID {
		t.Fatalf("expected user restored from remember cookies, got %v", got)
	}
	if restarted[SessionCookie] == "" {
		t.Fatal("session should be re-established")
	}

	// The re-established session stands on its own.
	sessionOnly := jar{SessionCookie: restarted[SessionCookie]}
	if got := f.whoami(sessionOnly); got == nil || got.ID != u.ID {
		t.Error("re-established session should resolve without persistent cookies")
	}
}

func TestRemember_WrongTokenIsAnonymous(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}
	f.login(t, j, u, true)

	forged := jar{UserIDCookie: j[UserIDCookie], RememberCookie: "not-the-token"}
	if got := f.whoami(forged); got != nil {
		t.Error("wrong remember token should not authenticate")
	}

	tampered := jar{UserIDCookie: j[UserIDCookie] + "x", RememberCookie: j[RememberCookie]}
	if got := f.whoami(tampered); got != nil {
		t.Error("tampered user id cookie should not authenticate")
	}
}

func TestRemember_InactiveUserIsAnonymous(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "pending@example.com", false)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	if err := f.m.Remember(w, r, u); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	j := jar{}
	j.absorb(w)
	if got := f.whoami(j); got != nil {
		t.Error("unactivated user should not be restored")
	}
}

func TestRememberThenForget_ClearsCookies(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}
	f.login(t, j, u, true)
	oldToken := j[RememberCookie]

	f.do(j, http.MethodPost, "/", func(w http.ResponseWriter, r *http.Request) {
		if err := f.m.Forget(w, r, CurrentUser(r.Context())); err != nil {
			t.Fatalf("Forget: %v", err)
		}
	})
	if _, ok := j[UserIDCookie]; ok {
		t.Error("user id cookie should be cleared")
	}
	if _, ok := j[RememberCookie]; ok {
		t.Error("remember cookie should be cleared")
	}
	if f.svc.Authenticated(f.db.User(u.ID), account.KindRemember, oldToken) {
		t.Error("old remember token should no longer verify")
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)

	t.Run("anonymous is a no-op", func(t *testing.T) {
		j := jar{}
		f.do(j, http.MethodDelete, "/logout", func(w http.ResponseWriter, r *http.Request) {
			if err := f.m.Logout(w, r); err != nil {
				t.Errorf("Logout: %v", err)
			}
		})
	})

	t.Run("logged in twice over", func(t *testing.T) {
		j := jar{}
		f.login(t, j, u, true)
		for i := 0; i < 2; i++ {
			f.do(j, http.MethodDelete, "/logout", func(w http.ResponseWriter, r *http.Request) {
				if err := f.m.Logout(w, r); err != nil {
					t.Errorf("Logout #%d: %v", i+1, err)
				}
				if CurrentUser(r.Context()) != nil {
					t.Error("identity should be dropped for the rest of the request")
				}
			})
		}
		if len(j) != 0 {
			t.Errorf("all cookies should be cleared, left %v", j)
		}
		if f.db.User(u.ID).RememberDigest != nil {
			t.Error("logout should forget the user")
		}
	})
}

func TestTamperedSessionIsAnonymous(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}
	f.login(t, j, u, false)

	parts := strings.Split(j[SessionCookie], ".")
	if len(parts) != 3 {
		t.Fatalf("session cookie should be a JWT, got %q", j[SessionCookie])
	}
	j[SessionCookie] = parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]
	if got := f.whoami(j); got != nil {
		t.Error("tampered session should be anonymous")
	}
}

func TestSessionForOtherSecretIsAnonymous(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}
	f.login(t, j, u, false)

	other, err := NewManager(f.svc, Config{Secret: []byte("another-secret-key-base-at-least-32-bytes!!")})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.m = other
	if got := f.whoami(j); got != nil {
		t.Error("session signed with another secret should be anonymous")
	}
}

func TestForwardingURL(t *testing.T) {
	f := newFixture(t)
	protected := f.m.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("GET is stored and consumed once", func(t *testing.T) {
		j := jar{}
		w := f.do(j, http.MethodGet, "/users/42/following?page=2", protected.ServeHTTP)
		if w.Code != http.StatusSeeOther {
			t.Fatalf("status: expected 303, got %d", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "/login" {
			t.Errorf("Location: expected /login, got %q", loc)
		}
		if !strings.Contains(w.Body.String(), "Please log in.") {
			t.Errorf("body: got %q", w.Body.String())
		}

		var first, second string
		f.do(j, http.MethodPost, "/login", func(w http.ResponseWriter, r *http.Request) {
			first = f.m.ConsumeForwardingURL(w, r)
			second = f.m.ConsumeForwardingURL(w, r)
		})
		if first != "/users/42/following?page=2" {
			t.Errorf("forwarding url: got %q", first)
		}
		if second != "" {
			t.Errorf("second consume should be empty, got %q", second)
		}
	})

	t.Run("non-GET is not stored", func(t *testing.T) {
		j := jar{}
		w := f.do(j, http.MethodPost, "/microposts", protected.ServeHTTP)
		if w.Code != http.StatusSeeOther {
			t.Fatalf("status: expected 303, got %d", w.Code)
		}
		var fwd string
		f.do(j, http.MethodPost, "/login", func(w http.ResponseWriter, r *http.Request) {
			fwd = f.m.ConsumeForwardingURL(w, r)
		})
		if fwd != "" {
			t.Errorf("expected no forwarding url, got %q", fwd)
		}
	})
}

func TestRequireCSRF(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	ok := f.m.RequireCSRF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous passes", func(t *testing.T) {
		if w := f.do(jar{}, http.MethodPost, "/signup", ok.ServeHTTP); w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
	})

	j := jar{}
	var csrf string
	f.do(j, http.MethodPost, "/login", func(w http.ResponseWriter, r *http.Request) {
		if err := f.m.Login(w, r, u); err != nil {
			t.Fatalf("Login: %v", err)
		}
		csrf = CSRFToken(r.Context())
	})
	if csrf == "" {
		t.Fatal("login should issue a csrf token")
	}

	t.Run("missing header is forbidden", func(t *testing.T) {
		if w := f.do(j, http.MethodPost, "/microposts", ok.ServeHTTP); w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("matching header passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := j.request(http.MethodDelete, "/microposts/1")
		r.Header.Set(CSRFHeader, csrf)
		f.m.Load(ok).ServeHTTP(w, r)
		if w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
		if got := w.Header().Get(CSRFHeader); got != csrf {
			t.Errorf("response should echo csrf token, got %q", got)
		}
	})

	t.Run("GET needs no header", func(t *testing.T) {
		if w := f.do(j, http.MethodGet, "/feed", ok.ServeHTTP); w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
	})
}

func TestLoad_StoreFailureIs500(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, "a@example.com", true)
	j := jar{}
	f.login(t, j, u, false)

	f.db.GetUserErr = context.DeadlineExceeded
	w := f.do(j, http.MethodGet, "/", func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestSetCookie_ReplacesSameName(t *testing.T) {
	w := httptest.NewRecorder()
	setCookie(w, &http.Cookie{Name: "a", Value: "1"})
	setCookie(w, &http.Cookie{Name: "b", Value: "2"})
	setCookie(w, &http.Cookie{Name: "a", Value: "3"})

	got := w.Header().Values("Set-Cookie")
	if len(got) != 2 {
		t.Fatalf("expected 2 Set-Cookie headers, got %v", got)
	}
	if got[0] != "b=2" || got[1] != "a=3" {
		t.Errorf("unexpected headers: %v", got)
	}
}

func TestSealUserID(t *testing.T) {
	f := newFixture(t)
	id := uuid.Must(uuid.NewV7())

	sealed, err := f.m.sealUserID(id)
	if err != nil {
		t.Fatalf("sealUserID: %v", err)
	}
	opened, err := f.m.openUserID(sealed)
	if err != nil {
		t.Fatalf("openUserID: %v", err)
	}
	if opened != id {
		t.Errorf("got %v, want %v", opened, id)
	}
	if _, err := f.m.openUserID("AAAA"); err == nil {
		t.Error("expected error for short value")
	}
}
