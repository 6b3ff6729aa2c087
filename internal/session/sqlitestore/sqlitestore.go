// Package sqlitestore is the durable, multi-session store a gateway
// deployment uses to persist sessions and their message history across
// restarts and across more than one concurrently-served conversation —
// a different concern from internal/turn/session's single-workspace,
// symlink-based continuation store, which a standalone CLI run doesn't
// need a database for at all.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// Session is one tracked conversation: who it belongs to, which channel
// it arrived on, and free-form metadata a channel adapter attaches.
type Session struct {
	ID        string
	AgentID   string
	Channel   string
	ChannelID string
	Key       string
	Title     string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionKey builds the unique key a channel adapter uses to find an
// existing session for a given (agent, channel, channel-native-id)
// triple, mirroring the teacher's session-lookup convention.
func SessionKey(agentID, channel, channelID string) string {
	return agentID + ":" + channel + ":" + channelID
}

// ListOptions filters and paginates Store.List.
type ListOptions struct {
	Channel string
	Limit   int
	Offset  int
}

// Store persists Sessions and their Message history in a single SQLite
// database file.
type Store struct {
	db *sql.DB

	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtGetByKey      *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetHistory    *sql.Stmt
}

// Open opens (creating if necessary) a SQLite database at path, applies
// the schema, and prepares every statement the store uses.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	// SQLite allows exactly one writer at a time; a pool bigger than one
	// connection just trades lock contention for connection churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: prepare statements: %w", err)
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			key TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT NOT NULL DEFAULT '[]',
			tool_call_id TEXT NOT NULL DEFAULT '',
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`)
	return err
}

func (s *Store) prepareStatements() error {
	var err error
	prep := func(dst **sql.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
	}

	prep(&s.stmtCreateSession, `INSERT INTO sessions (id, agent_id, channel, channel_id, key, title, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmtGetSession, `SELECT id, agent_id, channel, channel_id, key, title, metadata, created_at, updated_at FROM sessions WHERE id = ?`)
	prep(&s.stmtGetByKey, `SELECT id, agent_id, channel, channel_id, key, title, metadata, created_at, updated_at FROM sessions WHERE key = ?`)
	prep(&s.stmtUpdateSession, `UPDATE sessions SET title = ?, metadata = ?, updated_at = ? WHERE id = ?`)
	prep(&s.stmtDeleteSession, `DELETE FROM sessions WHERE id = ?`)
	prep(&s.stmtAppendMessage, `INSERT INTO messages (id, session_id, role, kind, content, tool_calls, tool_call_id, is_error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	prep(&s.stmtGetHistory, `SELECT id, role, kind, content, tool_calls, tool_call_id, is_error, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`)

	return err
}

// Close releases every prepared statement and the underlying connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtGetByKey,
		s.stmtUpdateSession, s.stmtDeleteSession, s.stmtAppendMessage, s.stmtGetHistory,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// Create inserts a new session. sess.ID, CreatedAt, and UpdatedAt must
// already be set by the caller.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("sqlitestore: session id is required")
	}
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal metadata: %w", err)
	}
	_, err = s.stmtCreateSession.ExecContext(ctx,
		sess.ID, sess.AgentID, sess.Channel, sess.ChannelID, sess.Key,
		sess.Title, metadata, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: create session: %w", err)
	}
	return nil
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	return scanSession(s.stmtGetSession.QueryRowContext(ctx, id))
}

// GetByKey returns one session by its (agent, channel, channel-id) key.
func (s *Store) GetByKey(ctx context.Context, key string) (*Session, error) {
	return scanSession(s.stmtGetByKey.QueryRowContext(ctx, key))
}

// GetOrCreate returns the existing session for key, or creates and
// returns a new one if none exists yet.
func (s *Store) GetOrCreate(ctx context.Context, key, agentID, channel, channelID string) (*Session, error) {
	existing, err := s.GetByKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	now := time.Now()
	sess := &Session{
		ID:        key,
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
		Key:       key,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Update persists a session's title and metadata.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal metadata: %w", err)
	}
	sess.UpdatedAt = time.Now()
	_, err = s.stmtUpdateSession.ExecContext(ctx, sess.Title, metadata, sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update session: %w", err)
	}
	return nil
}

// Delete removes a session. Its message history is left orphaned rather
// than cascade-deleted, matching the teacher's CockroachStore (a
// deliberate audit-trail retention choice, not an oversight).
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete session: %w", err)
	}
	return nil
}

// List returns sessions for agentID, optionally filtered by channel.
func (s *Store) List(ctx context.Context, agentID string, opts ListOptions) ([]*Session, error) {
	query := `SELECT id, agent_id, channel, channel_id, key, title, metadata, created_at, updated_at FROM sessions WHERE agent_id = ?`
	args := []any{agentID}
	if opts.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, opts.Channel)
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendMessage persists one message belonging to sessionID.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal tool calls: %w", err)
	}
	_, err = s.stmtAppendMessage.ExecContext(ctx,
		msg.ID, sessionID, string(msg.Role), string(msg.Kind), msg.Content,
		toolCalls, msg.ToolCallID, msg.IsError, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append message: %w", err)
	}
	return nil
}

// GetHistory returns up to limit messages for sessionID, oldest first.
func (s *Store) GetHistory(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	rows, err := s.stmtGetHistory.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get history: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var role, kind, toolCalls string
		var isError int
		if err := rows.Scan(&m.ID, &role, &kind, &m.Content, &toolCalls, &m.ToolCallID, &isError, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan message: %w", err)
		}
		m.Role = types.Role(role)
		m.Kind = types.MessageKind(kind)
		m.IsError = isError != 0
		if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("sqlitestore: unmarshal tool calls: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	return scanSessionRow(row)
}

func scanSessionRow(row rowScanner) (*Session, error) {
	var sess Session
	var metadata string
	if err := row.Scan(&sess.ID, &sess.AgentID, &sess.Channel, &sess.ChannelID, &sess.Key,
		&sess.Title, &metadata, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal metadata: %w", err)
	}
	return &sess, nil
}
