package authgate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opengoat/opengoat/internal/settings"
)

type fakeSettingsStore struct {
	enabled  bool
	username string
	password string
}

func (f fakeSettingsStore) VerifyPassword(username, password string) (bool, error) {
	return f.enabled && username == f.username && password == f.password, nil
}

func (f fakeSettingsStore) Load() (settings.Settings, error) {
	s := settings.DefaultSettings()
	s.Authentication.Enabled = f.enabled
	s.Authentication.Username = f.username
	return s, nil
}

func TestLogin_WrongPasswordFails(t *testing.T) {
	g, err := New(fakeSettingsStore{enabled: true, username: "root", password: "correct-horse-battery-1"}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Login("root", "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestLoginThenUsername_RoundTrips(t *testing.T) {
	g, err := New(fakeSettingsStore{enabled: true, username: "root", password: "correct-horse-battery-1"}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	token, err := g.Login("root", "correct-horse-battery-1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	w := httptest.NewRecorder()
	g.SetCookie(w, token)
	resp := w.Result()

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	for _, c := range resp.Cookies() {
		req.AddCookie(c)
	}
	if got := g.Username(req); got != "root" {
		t.Errorf("Username() = %q, want root", got)
	}
}

func TestMiddleware_PassesThroughWhenAuthDisabled(t *testing.T) {
	g, err := New(fakeSettingsStore{enabled: false}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	called := false
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !called {
		t.Fatal("expected handler to be called when auth is disabled")
	}
}

func TestMiddleware_RejectsMissingCookieWhenEnabled(t *testing.T) {
	g, err := New(fakeSettingsStore{enabled: true, username: "root", password: "correct-horse-battery-1"}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	called := false
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if called {
		t.Fatal("expected handler not to be called without a valid session")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_AllowsPublicPaths(t *testing.T) {
	g, err := New(fakeSettingsStore{enabled: true, username: "root", password: "correct-horse-battery-1"}, Config{PublicPaths: []string{"/api/auth/status", "/api/auth/login"}})
	if err != nil {
		t.Fatal(err)
	}
	called := false
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !called {
		t.Fatal("expected public path to bypass the gate")
	}
}

func TestMiddleware_AllowsValidSession(t *testing.T) {
	store := fakeSettingsStore{enabled: true, username: "root", password: "correct-horse-battery-1"}
	g, err := New(store, Config{})
	if err != nil {
		t.Fatal(err)
	}
	token, err := g.Login("root", "correct-horse-battery-1")
	if err != nil {
		t.Fatal(err)
	}

	called := false
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w1 := httptest.NewRecorder()
	g.SetCookie(w1, token)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	for _, c := range w1.Result().Cookies() {
		req.AddCookie(c)
	}
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req)

	if !called {
		t.Fatal("expected handler to be called with a valid session cookie")
	}
}
