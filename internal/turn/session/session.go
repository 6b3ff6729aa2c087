// Package session persists conversation state to disk and manages the
// continuation pointer that lets a new process pick an existing
// conversation back up: a symlink from .g3/session to the active
// session's directory, plus a latest.json continuation file recording
// which session was last active and how much of its context survived.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// ErrAmbiguousContinuation is returned when both a legacy session
// directory and a session symlink are present and they disagree about
// which session is active. Rather than guess, the caller must refuse to
// start until the operator resolves it by hand (open question (c)).
var ErrAmbiguousContinuation = errors.New("session: ambiguous continuation state: legacy directory and symlink disagree")

// Record is the durable on-disk form of one session: its id, messages,
// and bookkeeping the continuation manager needs.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Model     string          `json:"model"`
	Messages  []types.Message `json:"messages"`
}

// Continuation is the schema of latest.json: a pointer to the most
// recently active session plus enough of its usage state to decide
// whether the full context can simply be restored or needs to be
// rebuilt from a summary.
type Continuation struct {
	Version         string    `json:"version"`
	SessionID       string    `json:"session_id"`
	LastActiveAt    time.Time `json:"last_active_at"`
	ContextPercent  int       `json:"context_percent"`
}

const continuationVersion = "1.0"

// CanRestoreFullContext reports whether the conversation can simply be
// reloaded in full, versus needing compaction/dehydration applied again
// before use (spec: restorable while context usage stayed under 80%).
func (c Continuation) CanRestoreFullContext() bool {
	return c.ContextPercent < 80
}

// Store persists session records and the continuation pointer under a
// root directory shaped like:
//
//	<root>/sessions/<id>/record.json
//	<root>/sessions/<id>/fragments/
//	<root>/session          (symlink -> sessions/<id>)
//	<root>/latest.json
type Store struct {
	root string
}

// NewStore returns a Store rooted at root, creating the sessions
// subdirectory if necessary.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("session: create store root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.root, "sessions", id)
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.sessionDir(id), "record.json")
}

func (s *Store) symlinkPath() string {
	return filepath.Join(s.root, "session")
}

func (s *Store) continuationPath() string {
	return filepath.Join(s.root, "latest.json")
}

// Save writes a session record and updates UpdatedAt.
func (s *Store) Save(r *Record) error {
	r.UpdatedAt = time.Now()
	dir := s.sessionDir(r.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: create session dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(r.ID), data, 0o644); err != nil {
		return fmt.Errorf("session: write record: %w", err)
	}
	return nil
}

// Load reads a session record by id.
func (s *Store) Load(id string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("session: read record %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("session: unmarshal record %s: %w", id, err)
	}
	return &r, nil
}

// SetActive points the session symlink at id and writes a fresh
// continuation file recording the hand-off.
func (s *Store) SetActive(id string, contextPercent int) error {
	link := s.symlinkPath()
	_ = os.Remove(link)
	if err := os.Symlink(filepath.Join("sessions", id), link); err != nil {
		return fmt.Errorf("session: update session symlink: %w", err)
	}
	c := Continuation{
		Version:        continuationVersion,
		SessionID:      id,
		LastActiveAt:   time.Now(),
		ContextPercent: contextPercent,
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal continuation: %w", err)
	}
	if err := os.WriteFile(s.continuationPath(), data, 0o644); err != nil {
		return fmt.Errorf("session: write continuation: %w", err)
	}
	return nil
}

// ResolveActive determines which session should be resumed:
//
//   - a legacy pre-continuation layout (a bare session directory at
//     <root>/session, not a symlink) migrates in place to the symlink
//     form;
//   - if both a legacy directory AND a symlink exist and they name
//     different sessions, refuse to guess (ErrAmbiguousContinuation);
//   - otherwise follow the symlink, or report no active session.
func (s *Store) ResolveActive() (*Continuation, error) {
	link := s.symlinkPath()
	info, err := os.Lstat(link)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("session: stat session pointer: %w", err)
	}

	if info.Mode()&os.ModeSymlink == 0 {
		// Legacy layout: <root>/session is itself a session directory.
		legacyID, migrateErr := s.migrateLegacyDirectory(link)
		if migrateErr != nil {
			return nil, migrateErr
		}
		cont, err := s.readContinuation()
		if err != nil {
			return nil, err
		}
		if cont != nil && cont.SessionID != legacyID {
			return nil, ErrAmbiguousContinuation
		}
		return &Continuation{Version: continuationVersion, SessionID: legacyID}, nil
	}

	cont, err := s.readContinuation()
	if err != nil {
		return nil, err
	}
	if cont == nil {
		target, err := os.Readlink(link)
		if err != nil {
			return nil, fmt.Errorf("session: read session symlink: %w", err)
		}
		return &Continuation{Version: continuationVersion, SessionID: filepath.Base(target)}, nil
	}
	return cont, nil
}

func (s *Store) readContinuation() (*Continuation, error) {
	data, err := os.ReadFile(s.continuationPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read continuation: %w", err)
	}
	var c Continuation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("session: unmarshal continuation: %w", err)
	}
	return &c, nil
}

// migrateLegacyDirectory moves a bare <root>/session directory into the
// sessions/<id> layout and replaces it with a symlink, returning the id
// it was migrated to.
func (s *Store) migrateLegacyDirectory(legacyPath string) (string, error) {
	id := fmt.Sprintf("legacy-%d", time.Now().UnixNano())
	newDir := s.sessionDir(id)
	if err := os.Rename(legacyPath, newDir); err != nil {
		return "", fmt.Errorf("session: migrate legacy session directory: %w", err)
	}
	if err := os.Symlink(filepath.Join("sessions", id), legacyPath); err != nil {
		return "", fmt.Errorf("session: relink migrated session: %w", err)
	}
	return id, nil
}

// Clear removes the active-session pointer and continuation file,
// without touching any persisted session record. A later ResolveActive
// call reports no active session until SetActive is called again.
func (s *Store) Clear() error {
	if err := os.Remove(s.symlinkPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: clear session pointer: %w", err)
	}
	if err := os.Remove(s.continuationPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: clear continuation file: %w", err)
	}
	return nil
}
