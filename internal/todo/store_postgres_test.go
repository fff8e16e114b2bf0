package todo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS todos").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	return store, mock
}

func TestPostgresStoreInsert(t *testing.T) {
	store, mock := newPostgresStore(t)
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO todos").
		WithArgs("buy milk", int64(7), createdAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, err := store.Insert(context.Background(), "buy milk", 7, createdAt)
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if id != 3 {
		t.Fatalf("expected id 3, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreListResolvesOwners(t *testing.T) {
	store, mock := newPostgresStore(t)
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "title", "user_id", "completed", "created_at", "username"}).
		AddRow(int64(1), "buy milk", int64(7), false, createdAt, "alice").
		AddRow(int64(2), "guest task", int64(-1), false, createdAt, nil)
	mock.ExpectQuery("SELECT t.id, t.title").WillReturnRows(rows)

	todos, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("expected 2 todos, got %d", len(todos))
	}
	if todos[0].User == nil || todos[0].User.ID != 7 || todos[0].User.Username != "alice" {
		t.Fatalf("expected first todo owned by alice, got %+v", todos[0].User)
	}
	if todos[1].User != nil {
		t.Fatalf("expected guest todo to have no owner, got %+v", todos[1].User)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreListEmpty(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectQuery("SELECT t.id, t.title").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "user_id", "completed", "created_at", "username"}))

	todos, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if todos == nil || len(todos) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", todos)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreDelete(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec("DELETE FROM todos").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := store.Delete(context.Background(), 3)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected row, got %d", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreDeleteMissing(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec("DELETE FROM todos").
		WithArgs(int64(9999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	affected, err := store.Delete(context.Background(), 9999)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected 0 affected rows, got %d", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresStoreRequiresDatabase(t *testing.T) {
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil database")
	}
}
