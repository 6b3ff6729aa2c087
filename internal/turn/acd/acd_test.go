package acd

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func sampleMessages() []types.Message {
	return []types.Message{
		{Role: types.RoleUser, Content: "Please refactor the AuthService module."},
		{Role: types.RoleAssistant, Content: "Looking at AuthService now.", ToolCalls: []types.ToolCall{
			{Name: "read_file", Args: types.RawArgs(`{"path":"auth.go"}`)},
		}},
		{Kind: types.KindToolResult, Content: "package auth\n..."},
	}
}

func TestNewFragmentComputesDerivedFields(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	f := New(sampleMessages(), "", now)
	if f.ID == "" || len(f.ID) != 12 {
		t.Fatalf("expected 12-char id, got %q", f.ID)
	}
	if f.EstimatedTokens <= 0 {
		t.Fatalf("expected positive token estimate")
	}
	if f.ToolCallSummary != "read_file x1" {
		t.Fatalf("got %q", f.ToolCallSummary)
	}
}

func TestSaveRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	f := New(sampleMessages(), "", time.Unix(1700000000, 0))
	if err := store.Save(f); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(f); err == nil {
		t.Fatalf("expected second save of the same id to fail")
	}
}

func TestLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	f := New(sampleMessages(), "", time.Unix(1700000001, 0))
	if err := store.Save(f); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != f.ID || len(got.Messages) != len(f.Messages) {
		t.Fatalf("got %+v", got)
	}
}

func TestLatestFragmentIDFindsChainTail(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	f1 := New(sampleMessages(), "", time.Unix(1700000000, 0))
	if err := store.Save(f1); err != nil {
		t.Fatal(err)
	}
	f2 := New(sampleMessages(), f1.ID, time.Unix(1700000100, 0))
	if err := store.Save(f2); err != nil {
		t.Fatal(err)
	}
	latest, err := store.LatestFragmentID()
	if err != nil {
		t.Fatal(err)
	}
	if latest != f2.ID {
		t.Fatalf("expected chain tail %s, got %s", f2.ID, latest)
	}
}

func TestRehydrateWalksChainByDepth(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	f1 := New(sampleMessages(), "", time.Unix(1700000000, 0))
	store.Save(f1)
	f2 := New(sampleMessages(), f1.ID, time.Unix(1700000100, 0))
	store.Save(f2)

	shallow, err := store.Rehydrate(f2.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(shallow) != len(f2.Messages) {
		t.Fatalf("depth=1 should only read the latest fragment, got %d messages", len(shallow))
	}

	deep, err := store.Rehydrate(f2.ID, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(deep) != len(f1.Messages)+len(f2.Messages) {
		t.Fatalf("full-depth rehydrate should include both fragments, got %d messages", len(deep))
	}
}

func TestStubMentionsTopicsAndToolSummary(t *testing.T) {
	f := New(sampleMessages(), "", time.Unix(1700000000, 0))
	stub := Stub(f)
	for _, want := range []string{f.ID, "read_file", "rehydrate"} {
		if !strings.Contains(stub, want) {
			t.Fatalf("expected stub to contain %q, got %q", want, stub)
		}
	}
}

func TestStorePathIsUnderDir(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	if got := store.path("abc123"); filepath.Dir(got) != dir {
		t.Fatalf("got %q", got)
	}
}
