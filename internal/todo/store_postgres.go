package todo

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore assumes the users table already exists; the app wires the
// auth stores first so the owner join below always has something to hit.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS todos (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	user_id BIGINT NOT NULL DEFAULT -1,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure todos schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, title string, userID int64, createdAt time.Time) (int64, error) {
	const q = `
INSERT INTO todos (title, user_id, completed, created_at)
VALUES ($1, $2, FALSE, $3)
RETURNING id`
	var id int64
	if err := s.db.QueryRowContext(ctx, q, title, userID, createdAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert todo: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Todo, error) {
	const q = `
SELECT t.id, t.title, t.user_id, t.completed, t.created_at, u.username
FROM todos t
LEFT JOIN users u ON u.id = t.user_id
ORDER BY t.id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	out := make([]Todo, 0)
	for rows.Next() {
		var t Todo
		var userID int64
		var username sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &userID, &t.Completed, &t.CreatedAt, &username); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		if username.Valid {
			t.User = &Owner{ID: userID, Username: username.String}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate todos: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) (int64, error) {
	const q = `DELETE FROM todos WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, fmt.Errorf("delete todo: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read delete affected rows: %w", err)
	}
	return affected, nil
}
