// Package authgate implements the AuthGate (C13): a locally-signed,
// cookie-based session gate sitting in front of HttpFacade. There is no
// external identity provider — the control plane signs and verifies its
// own session tokens with a process-scoped secret, and delegates password
// verification to SettingsStore.
package authgate

import (
	"crypto/rand"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/settings"
)

// PasswordVerifier is the subset of settings.Store AuthGate needs.
type PasswordVerifier interface {
	VerifyPassword(username, password string) (bool, error)
	Load() (settings.Settings, error)
}

// Config configures a Gate.
type Config struct {
	CookieName string
	Secure     bool
	TTL        time.Duration
	// PublicPaths are exact request paths the middleware never gates
	// (e.g. "/api/auth/status", "/api/auth/login").
	PublicPaths []string
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = "opengoat_session"
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	return c
}

// Gate is the AuthGate. Its signing secret is generated fresh each process
// start, so every outstanding session cookie is invalidated by a restart —
// an intentional simplification given there is no shared token store.
type Gate struct {
	cfg      Config
	secret   []byte
	settings PasswordVerifier
}

type claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// New creates a Gate with a freshly generated signing secret.
func New(settingsStore PasswordVerifier, cfg Config) (*Gate, error) {
	cfg = cfg.withDefaults()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg, secret: secret, settings: settingsStore}, nil
}

// Login verifies username/password against the SettingsStore and, on
// success, returns a signed session token ready to set as a cookie value.
func (g *Gate) Login(username, password string) (string, error) {
	ok, err := g.settings.VerifyPassword(username, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apierrors.Unauthenticated("invalid username or password")
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.cfg.TTL)),
		},
		Username: username,
	})
	return tok.SignedString(g.secret)
}

// SetCookie writes the session cookie for a signed token.
func (g *Gate) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(g.cfg.TTL.Seconds()),
	})
}

// ClearCookie expires the session cookie immediately (logout).
func (g *Gate) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Username returns the authenticated username from a request's session
// cookie, or "" if there is none or it's invalid.
func (g *Gate) Username(r *http.Request) string {
	cookie, err := r.Cookie(g.cfg.CookieName)
	if err != nil {
		return ""
	}
	var c claims
	tok, err := jwt.ParseWithClaims(cookie.Value, &c, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	})
	if err != nil || !tok.Valid {
		return ""
	}
	return c.Username
}

func (g *Gate) isPublic(path string) bool {
	for _, p := range g.cfg.PublicPaths {
		if p == path {
			return true
		}
	}
	return false
}

// Middleware gates every request except PublicPaths. When authentication
// is disabled in settings, every request passes through unauthenticated
// (spec §4.13: auth is opt-in). When enabled, a missing or invalid session
// cookie is rejected with 401 via the standard error envelope.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		state, err := g.settings.Load()
		if err != nil {
			apierrors.WriteJSON(w, apierrors.Internal("settings_load_failed", err))
			return
		}
		if !state.Authentication.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if g.Username(r) == "" {
			apierrors.WriteJSON(w, apierrors.Unauthenticated("a valid session is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NormalizePublicPath trims a trailing slash from path. The middleware's
// PublicPaths check compares paths exactly and does not call it.
func NormalizePublicPath(path string) string {
	return strings.TrimSuffix(path, "/")
}
