// Package settings implements the SettingsStore (C11): the single global
// JSON document holding cron on/off, inactivity thresholds, notification
// targets, and the authentication block (which stores only a password
// verifier, never the plaintext).
package settings

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/opengoat/opengoat/internal/apierrors"
	"github.com/opengoat/opengoat/internal/layout"
)

// NotificationTarget selects who receives inactivity-sweep notifications.
type NotificationTarget string

const (
	TargetAllManagers NotificationTarget = "all-managers"
	TargetCEOOnly      NotificationTarget = "ceo-only"
)

// argon2 tuning, matching the parameters recommended by the
// golang.org/x/crypto/argon2 package docs for interactive logins.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// PasswordVerifier is the persisted argon2id verifier: salt + derived key.
// The plaintext password is never stored.
type PasswordVerifier struct {
	Salt []byte `json:"salt"`
	Hash []byte `json:"hash"`
}

func newVerifier(password string) (PasswordVerifier, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return PasswordVerifier{}, fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return PasswordVerifier{Salt: salt, Hash: hash}, nil
}

func (v PasswordVerifier) matches(password string) bool {
	if len(v.Salt) == 0 {
		return false
	}
	candidate := argon2.IDKey([]byte(password), v.Salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(candidate, v.Hash) == 1
}

// Authentication is the persisted auth block. HasPassword is derived, not
// stored independently, from whether Verifier has a salt set.
type Authentication struct {
	Enabled  bool             `json:"enabled"`
	Username string           `json:"username"`
	Verifier PasswordVerifier `json:"verifier"`
}

// HasPassword reports whether a password verifier has been set.
func (a Authentication) HasPassword() bool { return len(a.Verifier.Salt) > 0 }

// Settings is the persisted global document (spec §3).
type Settings struct {
	TaskCronEnabled                 bool               `json:"taskCronEnabled"`
	NotifyManagersOfInactiveAgents  bool               `json:"notifyManagersOfInactiveAgents"`
	MaxInactivityMinutes            int                `json:"maxInactivityMinutes"`
	InactiveAgentNotificationTarget NotificationTarget `json:"inactiveAgentNotificationTarget"`
	Authentication                  Authentication     `json:"authentication"`
}

// DefaultSettings is what a fresh home directory starts with.
func DefaultSettings() Settings {
	return Settings{
		TaskCronEnabled:                 true,
		NotifyManagersOfInactiveAgents:  false,
		MaxInactivityMinutes:            60,
		InactiveAgentNotificationTarget: TargetAllManagers,
		Authentication:                  Authentication{Enabled: false},
	}
}

func clampInactivity(minutes int) int {
	switch {
	case minutes < 1:
		return 1
	case minutes > 10080:
		return 10080
	default:
		return minutes
	}
}

// Store is the SettingsStore: one JSON document, read from disk on first
// access and cached after that, and written with an atomic replace.
type Store struct {
	layout *layout.Layout

	mu       sync.Mutex
	cached   Settings
	loaded   bool
	onCron   []func(enabled bool)
}

// New creates a Store rooted at the given layout.
func New(l *layout.Layout) *Store {
	return &Store{layout: l}
}

// OnCronToggle registers a callback invoked (outside the store's lock)
// whenever Save changes TaskCronEnabled, so the scheduler goroutine can be
// started or stopped without restarting the process (spec §4.11).
func (s *Store) OnCronToggle(fn func(enabled bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCron = append(s.onCron, fn)
}

// Load reads the settings document, seeding it with defaults on first use.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Settings, error) {
	if s.loaded {
		return s.cached, nil
	}
	data, err := os.ReadFile(s.layout.GlobalConfigJSONPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.cached = DefaultSettings()
			s.loaded = true
			return s.cached, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var doc Settings
	if err := json.Unmarshal(data, &doc); err != nil {
		return Settings{}, apierrors.Internal("invalid_settings_json", err)
	}
	s.cached = doc
	s.loaded = true
	return doc, nil
}

// Save atomically replaces the settings document and, if TaskCronEnabled
// changed, notifies registered OnCronToggle callbacks.
func (s *Store) Save(next Settings) error {
	next.MaxInactivityMinutes = clampInactivity(next.MaxInactivityMinutes)

	s.mu.Lock()
	prev, err := s.loadLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	cronChanged := prev.TaskCronEnabled != next.TaskCronEnabled
	callbacks := append([]func(enabled bool){}, s.onCron...)

	if err := s.writeLocked(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if cronChanged {
		for _, cb := range callbacks {
			cb(next.TaskCronEnabled)
		}
	}
	return nil
}

func (s *Store) writeLocked(doc Settings) error {
	path := s.layout.GlobalConfigJSONPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	s.cached = doc
	s.loaded = true
	return nil
}

// passwordPolicyOK enforces the §4.13 password policy: at least 12 chars,
// one upper, one lower, one digit, one symbol.
func passwordPolicyOK(password string) bool {
	if len(password) < 12 {
		return false
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// ChangeAuthParams is the input to ChangeAuth.
type ChangeAuthParams struct {
	Enabled         bool
	Username        string
	NewPassword     string // empty: keep the existing verifier
	CurrentPassword string // required when auth is already enabled
}

// ChangeAuth updates the authentication block, enforcing the password
// policy on any new password and requiring the current password whenever
// protection is already enabled and the caller is changing the username
// or enabling/changing protection (spec §4.13).
func (s *Store) ChangeAuth(params ChangeAuthParams) error {
	s.mu.Lock()
	current, err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	auth := current.Authentication
	if auth.Enabled {
		if strings.TrimSpace(params.CurrentPassword) == "" || !auth.Verifier.matches(params.CurrentPassword) {
			return apierrors.Authorization("current_password_required", "the current password is required to change authentication settings")
		}
	}

	if params.NewPassword != "" {
		if !passwordPolicyOK(params.NewPassword) {
			return apierrors.Validation("weak_password", "password must be at least 12 characters and include an uppercase letter, a lowercase letter, a digit, and a symbol")
		}
		verifier, err := newVerifier(params.NewPassword)
		if err != nil {
			return err
		}
		auth.Verifier = verifier
	}
	if !auth.HasPassword() && params.Enabled {
		return apierrors.Validation("password_required", "a password must be set before authentication can be enabled")
	}

	auth.Enabled = params.Enabled
	auth.Username = params.Username

	current.Authentication = auth
	return s.Save(current)
}

// VerifyPassword checks username/password against the stored verifier in
// constant time.
func (s *Store) VerifyPassword(username, password string) (bool, error) {
	current, err := s.Load()
	if err != nil {
		return false, err
	}
	if !current.Authentication.Enabled {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(current.Authentication.Username), []byte(username)) != 1 {
		return false, nil
	}
	return current.Authentication.Verifier.matches(password), nil
}
