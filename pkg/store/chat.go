package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pagelens/pagelens/pkg/core"
)

// ChatSession groups the messages of one conversation.
type ChatSession struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ChatMessage is one turn. Role is "user" or "model"; intermediate
// tool traffic is never persisted.
type ChatMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// ChatStore persists agent conversations in its own sqlite file, kept
// apart from the content database.
type ChatStore struct {
	db *sql.DB
}

// OpenChat opens (and migrates) the chat memory database.
func OpenChat(path string) (*ChatStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}

	store := &ChatStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *ChatStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at DESC);
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the underlying database.
func (s *ChatStore) Close() error { return s.db.Close() }

// CreateSession starts a new session. An empty title is filled in from
// the first user message later.
func (s *ChatStore) CreateSession(ctx context.Context, title string) (*ChatSession, error) {
	now := time.Now().Unix()
	session := &ChatSession{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		session.ID, session.Title, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns one session or core.ErrNotFound.
func (s *ChatStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at FROM chat_sessions WHERE id = ?`, id)
	var sess ChatSession
	err := row.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns sessions most recently active first.
func (s *ChatStore) ListSessions(ctx context.Context) ([]*ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*ChatSession
	for rows.Next() {
		var sess ChatSession
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// AppendMessage stores one turn and bumps the session's activity time.
// The session title is set from the first user message.
func (s *ChatStore) AppendMessage(ctx context.Context, sessionID, role, content string) (*ChatMessage, error) {
	now := time.Now().Unix()
	msg := &ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_sessions SET updated_at = ?,
			title = CASE WHEN title = '' AND ? = 'user' THEN ? ELSE title END
		WHERE id = ?`,
		now, role, truncate(content, 100), sessionID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// RecentMessages returns the last limit messages in chronological
// order, the shape the agent preloads as context.
func (s *ChatStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM (
			SELECT rowid AS seq, id, session_id, role, content, created_at
			FROM chat_messages WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// Messages returns the full history of a session in order.
func (s *ChatStore) Messages(ctx context.Context, sessionID string) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
