package history

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite(%q): %v", path, err)
	}
	defer s.Close()

	if err := s.Put(ctx, &Turn{ID: "t1", Role: RoleUser, Text: "hello", ConversationID: "c1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, &Turn{ID: "t2", ParentID: "t1", Role: RoleAssistant, Text: "hi", ConversationID: "c1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "t2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get: turn missing")
	}
	if got.ParentID != "t1" || got.Role != RoleAssistant {
		t.Errorf("Get = %+v", got)
	}

	// Miss is (nil, nil), not an error
	missing, err := s.Get(ctx, "never-stored")
	if err != nil {
		t.Fatalf("Get(miss): %v", err)
	}
	if missing != nil {
		t.Errorf("Get(miss) = %+v, want nil", missing)
	}
}

func TestSQLiteReplace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	s.Put(ctx, &Turn{ID: "t1", Role: RoleUser, Text: "v1"})
	s.Put(ctx, &Turn{ID: "t1", Role: RoleUser, Text: "v2"})

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "v2" {
		t.Errorf("Text = %q, want %q", got.Text, "v2")
	}
}

func TestOpenPicksBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "")
	if err != nil {
		t.Fatalf("Open(\"\"): %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("Open(\"\") = %T, want *Memory", s)
	}

	path := filepath.Join(t.TempDir(), "history.db")
	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	if sq, ok := s.(*SQLite); !ok {
		t.Errorf("Open(path) = %T, want *SQLite", s)
	} else {
		sq.Close()
	}
}
