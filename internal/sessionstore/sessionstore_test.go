package sessionstore

import (
	"testing"

	"github.com/opengoat/opengoat/internal/layout"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	l, err := layout.New(t.TempDir())
	if err != nil {
		t.Fatalf("layout.New() error = %v", err)
	}
	return New(l)
}

func TestAppend_DerivesTitleAndCounters(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.Append("project:x", TranscriptEntry{Type: EntryMessage, Role: RoleUser, Content: "hello there\nmore"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if meta.Title != "hello there" {
		t.Errorf("Title = %q, want %q", meta.Title, "hello there")
	}
	if meta.InputChars != int64(len("hello there\nmore")) {
		t.Errorf("InputChars = %d", meta.InputChars)
	}

	meta, err = s.Append("project:x", TranscriptEntry{Type: EntryMessage, Role: RoleAssistant, Content: "hi"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if meta.OutputChars != 2 || meta.TotalChars != meta.InputChars+2 {
		t.Errorf("counters wrong: %+v", meta)
	}

	history, err := s.History("project:x", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() len = %d, want 2", len(history))
	}
}

func TestHistory_LimitKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.Append("ws:y", TranscriptEntry{Type: EntryMessage, Role: RoleUser, Content: "m"}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	history, err := s.History("ws:y", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len = %d, want 2", len(history))
	}
}

func TestRenameAndRemove(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append("project:z", TranscriptEntry{Type: EntryMessage, Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Rename("project:z", "My Session"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	list, err := s.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Title != "My Session" {
		t.Errorf("list = %+v", list)
	}

	if err := s.Remove("project:z"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := s.History("project:z", 10); err == nil {
		t.Error("expected error reading removed session")
	}
}

func TestLastAssistantMessageAt_NoSession(t *testing.T) {
	s := newTestStore(t)
	ts, err := s.LastAssistantMessageAt("nope")
	if err != nil {
		t.Fatalf("LastAssistantMessageAt() error = %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("expected zero time, got %v", ts)
	}
}
