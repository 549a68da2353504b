// Package storage persists sessions, chats, messages, and accumulated
// findings, and owns the dataset tables generated queries run against.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/log"
)

// Store is a SQLite-backed repository. One database file holds both the
// metadata tables and the per-session dataset tables.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

// Open creates (or opens) the database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "insightx.db"))
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, logger: log.WithComponent("storage")}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		filename TEXT,
		row_count INTEGER,
		status TEXT,
		table_name TEXT,
		profile TEXT,
		created_at TEXT
	);
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		title TEXT,
		created_at TEXT
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT,
		role TEXT,
		content TEXT,
		created_at TEXT
	);
	CREATE TABLE IF NOT EXISTS findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		query TEXT,
		finding TEXT,
		confidence REAL,
		timestamp TEXT
	);`)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for the query sandbox, which reads dataset tables
// from the same database.
func (s *Store) DB() *sql.DB { return s.db }

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profileJSON, err := marshalProfile(session.Profile)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, filename, row_count, status, table_name, profile, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Filename, session.RowCount, session.Status,
		session.Table, profileJSON, session.CreatedAt.Format(time.RFC3339))
	return err
}

// Session loads one session by id.
func (s *Store) Session(ctx context.Context, id string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, filename, row_count, status, table_name, profile, created_at
		FROM sessions WHERE id = ?`, id)

	var session domain.Session
	var profileJSON, createdAt string
	err := row.Scan(&session.ID, &session.Filename, &session.RowCount,
		&session.Status, &session.Table, &profileJSON, &createdAt)
	if err == sql.ErrNoRows {
		return domain.Session{}, domain.NewError(domain.ErrSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return domain.Session{}, err
	}
	if profileJSON != "" {
		var profile domain.DatasetProfile
		if err := json.Unmarshal([]byte(profileJSON), &profile); err == nil {
			session.Profile = &profile
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		session.CreatedAt = t
	}
	return session, nil
}

// Resolve implements ports.DatasetResolver.
func (s *Store) Resolve(ctx context.Context, sessionID string) (domain.DatasetHandle, error) {
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return domain.DatasetHandle{}, err
	}
	return domain.DatasetHandle{Table: session.Table}, nil
}

// CreateChat inserts a chat row.
func (s *Store) CreateChat(ctx context.Context, chat domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO chats (id, session_id, title, created_at)
		VALUES (?, ?, ?, ?)`,
		chat.ID, chat.SessionID, chat.Title, chat.CreatedAt.Format(time.RFC3339))
	return err
}

// Chat loads one chat by id.
func (s *Store) Chat(ctx context.Context, id string) (domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, title, created_at FROM chats WHERE id = ?`, id)
	var chat domain.Chat
	var createdAt string
	err := row.Scan(&chat.ID, &chat.SessionID, &chat.Title, &createdAt)
	if err == sql.ErrNoRows {
		return domain.Chat{}, domain.NewError(domain.ErrSessionNotFound, "chat %s not found", id)
	}
	if err != nil {
		return domain.Chat{}, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		chat.CreatedAt = t
	}
	return chat, nil
}

// SaveMessage appends one chat turn.
func (s *Store) SaveMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.CreatedAt.Format(time.RFC3339))
	return err
}

// Messages lists a chat's turns in insertion order.
func (s *Store) Messages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, role, content, created_at
		FROM messages WHERE chat_id = ? ORDER BY datetime(created_at), id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			msg.CreatedAt = t
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendFinding records one accumulated insight for a session.
func (s *Store) AppendFinding(ctx context.Context, sessionID string, finding domain.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO findings (session_id, query, finding, confidence, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, finding.Query, finding.Finding, finding.Confidence,
		finding.Timestamp.Format(time.RFC3339))
	return err
}

// Findings lists a session's accumulated insights, oldest first.
func (s *Store) Findings(ctx context.Context, sessionID string) ([]domain.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT query, finding, confidence, timestamp
		FROM findings WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var finding domain.Finding
		var ts string
		if err := rows.Scan(&finding.Query, &finding.Finding, &finding.Confidence, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			finding.Timestamp = t
		}
		findings = append(findings, finding)
	}
	return findings, rows.Err()
}

func marshalProfile(profile *domain.DatasetProfile) (string, error) {
	if profile == nil {
		return "", nil
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
