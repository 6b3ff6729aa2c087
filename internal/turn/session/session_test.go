package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	r := &Record{ID: "sess-1", Model: "gpt-4o-mini", Messages: []types.Message{{Content: "hi"}}}
	if err := s.Save(r); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "sess-1" || len(got.Messages) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestSetActiveThenResolve(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	r := &Record{ID: "sess-2"}
	if err := s.Save(r); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActive("sess-2", 40); err != nil {
		t.Fatal(err)
	}
	cont, err := s.ResolveActive()
	if err != nil {
		t.Fatal(err)
	}
	if cont == nil || cont.SessionID != "sess-2" {
		t.Fatalf("got %+v", cont)
	}
	if !cont.CanRestoreFullContext() {
		t.Fatalf("expected full restore to be possible at 40%%")
	}
}

func TestResolveActiveWithNoSessionReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	cont, err := s.ResolveActive()
	if err != nil {
		t.Fatal(err)
	}
	if cont != nil {
		t.Fatalf("expected nil continuation, got %+v", cont)
	}
}

func TestClearRemovesPointerNotRecord(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	r := &Record{ID: "sess-3"}
	s.Save(r)
	s.SetActive("sess-3", 10)
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	cont, err := s.ResolveActive()
	if err != nil {
		t.Fatal(err)
	}
	if cont != nil {
		t.Fatalf("expected no active session after clear, got %+v", cont)
	}
	if _, err := s.Load("sess-3"); err != nil {
		t.Fatalf("expected record to survive Clear: %v", err)
	}
}

func TestLegacyDirectoryMigratesToSymlink(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	legacyPath := filepath.Join(dir, "session")
	if err := os.MkdirAll(legacyPath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(legacyPath, "record.json"), []byte(`{"id":"legacy"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cont, err := s.ResolveActive()
	if err != nil {
		t.Fatal(err)
	}
	if cont == nil {
		t.Fatalf("expected migrated continuation")
	}

	info, err := os.Lstat(legacyPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected legacy directory to be replaced with a symlink")
	}
}

func TestAmbiguousContinuationRefusesToResolve(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(&Record{ID: "sess-A"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActive("sess-A", 10); err != nil {
		t.Fatal(err)
	}

	// Now simulate a legacy directory reappearing alongside the symlink,
	// by removing the symlink but keeping latest.json pointed at sess-A,
	// then writing a legacy directory for a *different* session.
	if err := os.Remove(s.symlinkPath()); err != nil {
		t.Fatal(err)
	}
	legacyPath := s.symlinkPath()
	if err := os.MkdirAll(legacyPath, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err = s.ResolveActive()
	if err != ErrAmbiguousContinuation {
		t.Fatalf("expected ErrAmbiguousContinuation, got %v", err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	r := &Record{ID: "mem-1", Messages: []types.Message{{Content: "a"}}}
	if err := m.Save(r); err != nil {
		t.Fatal(err)
	}
	got, err := m.Load("mem-1")
	if err != nil {
		t.Fatal(err)
	}
	got.Messages[0].Content = "mutated"
	again, err := m.Load("mem-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Messages[0].Content != "a" {
		t.Fatalf("expected stored copy to be unaffected by caller mutation, got %q", again.Messages[0].Content)
	}
}

func TestMemoryStoreActivePointer(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SetActive("mem-2", 30); err != nil {
		t.Fatal(err)
	}
	cont, err := m.ResolveActive()
	if err != nil {
		t.Fatal(err)
	}
	if cont.SessionID != "mem-2" {
		t.Fatalf("got %+v", cont)
	}
	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	cont, _ = m.ResolveActive()
	if cont != nil {
		t.Fatalf("expected nil after clear")
	}
}
