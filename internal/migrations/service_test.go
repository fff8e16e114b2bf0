package migrations

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestListSortsAndChecksums(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS migration_applied").WillReturnResult(sqlmock.NewResult(0, 0))
	svc, err := NewService(t.TempDir(), db)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}

	dir := svc.dir
	if err := os.WriteFile(filepath.Join(dir, "0002_todos.sql"), []byte("CREATE TABLE todos;"), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0001_users.sql"), []byte("CREATE TABLE users;"), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write non-sql file: %v", err)
	}

	files, err := svc.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migration files, got %d", len(files))
	}
	if files[0].Name != "0001_users.sql" || files[1].Name != "0002_todos.sql" {
		t.Fatalf("unexpected order: %+v", files)
	}
	if files[0].Checksum == "" || files[0].Checksum == files[1].Checksum {
		t.Fatalf("expected distinct non-empty checksums: %+v", files)
	}
}

func TestStatusMergesAppliedState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS migration_applied").WillReturnResult(sqlmock.NewResult(0, 0))
	svc, err := NewService(t.TempDir(), db)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(svc.dir, "0001_users.sql"), []byte("CREATE TABLE users;"), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	if err := os.WriteFile(filepath.Join(svc.dir, "0002_todos.sql"), []byte("CREATE TABLE todos;"), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}

	rows := sqlmock.NewRows([]string{"name", "applied_at"}).
		AddRow("0001_users.sql", "2026-03-01T10:00:00Z")
	mock.ExpectQuery("SELECT name, applied_at FROM migration_applied").WillReturnRows(rows)

	statuses, err := svc.Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 status rows, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt != "2026-03-01T10:00:00Z" {
		t.Fatalf("expected first migration applied: %+v", statuses[0])
	}
	if statuses[1].Applied {
		t.Fatalf("expected second migration pending: %+v", statuses[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestMarkAppliedValidatesName(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS migration_applied").WillReturnResult(sqlmock.NewResult(0, 0))
	svc, err := NewService(t.TempDir(), db)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}

	if err := svc.MarkApplied("../escape.sql", time.Now()); err == nil {
		t.Fatalf("expected error for path traversal name")
	}
	if err := svc.MarkApplied("0001_missing.sql", time.Now()); err == nil {
		t.Fatalf("expected error for nonexistent migration")
	}
}

func TestMarkAppliedUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS migration_applied").WillReturnResult(sqlmock.NewResult(0, 0))
	svc, err := NewService(t.TempDir(), db)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(svc.dir, "0001_users.sql"), []byte("CREATE TABLE users;"), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}

	appliedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO migration_applied").
		WithArgs("0001_users.sql", "2026-03-01T10:00:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := svc.MarkApplied("0001_users.sql", appliedAt); err != nil {
		t.Fatalf("MarkApplied() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
