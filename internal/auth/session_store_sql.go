package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLSessionStore keeps sessions in the application database. Timestamps are
// stored as RFC 3339 UTC strings, which both the Postgres and SQLite drivers
// accept and which compare correctly as text in the expiry sweep.
type SQLSessionStore struct {
	db *sql.DB
}

func NewSQLSessionStore(db *sql.DB) (*SQLSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &SQLSessionStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSessionStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	username TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) Create(ctx context.Context, session Session) error {
	if session.Token == "" {
		return fmt.Errorf("session token is required")
	}

	const q = `
INSERT INTO sessions (token, user_id, username, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, q,
		session.Token,
		session.UserID,
		session.Username,
		formatTime(session.CreatedAt),
		formatTime(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) Get(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}

	var session Session
	var createdAt, expiresAt string
	const q = `SELECT token, user_id, username, created_at, expires_at FROM sessions WHERE token = $1`
	err := s.db.QueryRowContext(ctx, q, token).
		Scan(&session.Token, &session.UserID, &session.Username, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}

	if session.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Session{}, fmt.Errorf("parse session created_at: %w", err)
	}
	if session.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return Session{}, fmt.Errorf("parse session expires_at: %w", err)
	}
	return session, nil
}

func (s *SQLSessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	const q = `DELETE FROM sessions WHERE token = $1`
	if _, err := s.db.ExecContext(ctx, q, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM sessions WHERE expires_at < $1`
	res, err := s.db.ExecContext(ctx, q, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read delete affected rows: %w", err)
	}
	return affected, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
