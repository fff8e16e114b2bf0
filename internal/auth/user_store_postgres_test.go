package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newPostgresUserStore(t *testing.T) (*PostgresUserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresUserStore(db)
	if err != nil {
		t.Fatalf("NewPostgresUserStore() error: %v", err)
	}
	return store, mock
}

func TestPostgresUserStoreCreate(t *testing.T) {
	store, mock := newPostgresUserStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	u, err := store.Create(context.Background(), "alice", "hash")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if u.ID != 7 || u.Username != "alice" {
		t.Fatalf("unexpected created user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreCreateDuplicate(t *testing.T) {
	store, mock := newPostgresUserStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "hash").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.Create(context.Background(), "alice", "hash")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreGetByUsernameNotFound(t *testing.T) {
	store, mock := newPostgresUserStore(t)

	mock.ExpectQuery("SELECT id, username, password_hash FROM users WHERE username = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetByUsername(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreGetByID(t *testing.T) {
	store, mock := newPostgresUserStore(t)

	mock.ExpectQuery("SELECT id, username, password_hash FROM users WHERE id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash"}).
			AddRow(int64(7), "alice", "hash"))

	u, err := store.GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("expected username alice, got %q", u.Username)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreUpdatePasswordNotFound(t *testing.T) {
	store, mock := newPostgresUserStore(t)

	mock.ExpectExec("UPDATE users SET password_hash").
		WithArgs(int64(99), "newhash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdatePassword(context.Background(), 99, "newhash"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
