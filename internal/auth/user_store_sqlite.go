package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) (*SQLiteUserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &SQLiteUserStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteUserStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure users schema: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) Create(ctx context.Context, username, passwordHash string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return User{}, fmt.Errorf("username and password hash are required")
	}

	const q = `INSERT INTO users (username, password_hash) VALUES ($1, $2)`
	res, err := s.db.ExecContext(ctx, q, username, passwordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("read inserted user id: %w", err)
	}
	return User{ID: id, Username: username, PasswordHash: passwordHash}, nil
}

func (s *SQLiteUserStore) GetByUsername(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrUserNotFound
	}

	var u User
	const q = `SELECT id, username, password_hash FROM users WHERE username = $1`
	if err := s.db.QueryRowContext(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

func (s *SQLiteUserStore) GetByID(ctx context.Context, id int64) (User, error) {
	var u User
	const q = `SELECT id, username, password_hash FROM users WHERE id = $1`
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Username, &u.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

func (s *SQLiteUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	// The sqlite driver binds $-parameters by order of first occurrence, so
	// the hash must come first to match the statement text.
	const q = `UPDATE users SET password_hash = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
