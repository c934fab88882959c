package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock *clock
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, clock: newClock()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := store.restoreClock(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			model_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			ts INTEGER NOT NULL,
			fingerprint INTEGER NOT NULL,
			UNIQUE (session_id, fingerprint),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// restoreClock keeps stamps increasing across restarts.
func (s *SQLiteStore) restoreClock() error {
	var latest sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(ts) FROM (
		SELECT MAX(ts) AS ts FROM messages
		UNION ALL
		SELECT MAX(created_at) FROM sessions
	)`).Scan(&latest)
	if err != nil {
		return err
	}
	if latest.Valid {
		s.clock.observe(time.Unix(0, latest.Int64).UTC())
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context) (*domain.Session, error) {
	session := &domain.Session{
		ID:        uuid.New().String(),
		CreatedAt: s.clock.stamp(),
		Messages:  []domain.Message{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at) VALUES (?, ?)`,
		session.ID, session.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	messages, err := s.messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:        sessionID,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		Messages:  messages,
	}, nil
}

// ListSessions lists sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.SessionSummary{}
	for rows.Next() {
		var summary domain.SessionSummary
		var createdAt int64
		if err := rows.Scan(&summary.ID, &createdAt); err != nil {
			return nil, err
		}
		summary.CreatedAt = time.Unix(0, createdAt).UTC()
		sessions = append(sessions, summary)
	}
	return sessions, rows.Err()
}

// AppendMessage inserts msg unless its fingerprint is already recorded.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (bool, error) {
	exists, err := s.sessionExists(ctx, sessionID)
	if err != nil || !exists {
		return false, err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock.stamp()
	} else {
		s.clock.observe(msg.Timestamp)
	}

	// go-sqlite3 rejects uint64 values with the high bit set.
	fp := int64(Fingerprint(msg))
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (session_id, role, model_id, content, ts, fingerprint) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.ModelID, msg.Content, msg.Timestamp.UnixNano(), fp)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return true, nil
}

// History returns the session transcript ordered by timestamp.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	exists, err := s.sessionExists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return s.messages(ctx, sessionID)
}

func (s *SQLiteStore) sessionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, model_id, content, ts FROM messages WHERE session_id = ? ORDER BY ts ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var ts int64
		if err := rows.Scan(&role, &msg.ModelID, &msg.Content, &ts); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		msg.Timestamp = time.Unix(0, ts).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
