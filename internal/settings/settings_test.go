package settings

import (
	"testing"

	"github.com/opengoat/opengoat/internal/layout"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	l, err := layout.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(l)
}

func TestLoad_DefaultsOnFreshHome(t *testing.T) {
	s := newStore(t)
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.TaskCronEnabled {
		t.Error("expected cron enabled by default")
	}
	if got.MaxInactivityMinutes != 60 {
		t.Errorf("MaxInactivityMinutes = %d, want 60", got.MaxInactivityMinutes)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newStore(t)
	want := DefaultSettings()
	want.MaxInactivityMinutes = 30
	want.InactiveAgentNotificationTarget = TargetCEOOnly
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	fresh := New(s.layout)
	got, err := fresh.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.MaxInactivityMinutes != 30 || got.InactiveAgentNotificationTarget != TargetCEOOnly {
		t.Errorf("got %+v, want MaxInactivityMinutes=30 Target=ceo-only", got)
	}
}

func TestSave_ClampsInactivityMinutes(t *testing.T) {
	s := newStore(t)
	doc := DefaultSettings()
	doc.MaxInactivityMinutes = 999999
	if err := s.Save(doc); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Load()
	if got.MaxInactivityMinutes != 10080 {
		t.Errorf("MaxInactivityMinutes = %d, want clamped to 10080", got.MaxInactivityMinutes)
	}
}

func TestSave_SignalsCronToggle(t *testing.T) {
	s := newStore(t)
	var seen []bool
	s.OnCronToggle(func(enabled bool) { seen = append(seen, enabled) })

	doc := DefaultSettings()
	doc.TaskCronEnabled = false
	if err := s.Save(doc); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != false {
		t.Errorf("expected one callback with false, got %v", seen)
	}

	// Saving again without changing the flag must not re-signal.
	if err := s.Save(doc); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Errorf("expected no additional callback, got %v", seen)
	}
}

func TestChangeAuth_EnableRequiresPassword(t *testing.T) {
	s := newStore(t)
	err := s.ChangeAuth(ChangeAuthParams{Enabled: true, Username: "admin"})
	if err == nil {
		t.Fatal("expected enabling auth without a password to fail")
	}
}

func TestChangeAuth_WeakPasswordRejected(t *testing.T) {
	s := newStore(t)
	err := s.ChangeAuth(ChangeAuthParams{Enabled: true, Username: "admin", NewPassword: "short"})
	if err == nil {
		t.Fatal("expected weak password to be rejected")
	}
}

func TestChangeAuth_EnableThenRequireCurrentPasswordToChange(t *testing.T) {
	s := newStore(t)
	if err := s.ChangeAuth(ChangeAuthParams{Enabled: true, Username: "admin", NewPassword: "Str0ng!Passw0rd"}); err != nil {
		t.Fatalf("enable auth: %v", err)
	}

	// Changing the username without the current password must fail.
	err := s.ChangeAuth(ChangeAuthParams{Enabled: true, Username: "root", NewPassword: ""})
	if err == nil {
		t.Fatal("expected username change without current password to fail")
	}

	// With the current password, it succeeds.
	err = s.ChangeAuth(ChangeAuthParams{Enabled: true, Username: "root", CurrentPassword: "Str0ng!Passw0rd"})
	if err != nil {
		t.Fatalf("expected username change with current password to succeed: %v", err)
	}

	ok, err := s.VerifyPassword("root", "Str0ng!Passw0rd")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected password to still verify after username change")
	}
}

func TestVerifyPassword_WrongPassword(t *testing.T) {
	s := newStore(t)
	if err := s.ChangeAuth(ChangeAuthParams{Enabled: true, Username: "admin", NewPassword: "Str0ng!Passw0rd"}); err != nil {
		t.Fatal(err)
	}
	ok, err := s.VerifyPassword("admin", "wrong-password-123!")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected wrong password to fail verification")
	}
}

func TestVerifyPassword_DisabledAuthAlwaysFalse(t *testing.T) {
	s := newStore(t)
	ok, err := s.VerifyPassword("admin", "anything")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected VerifyPassword to be false when auth disabled")
	}
}
