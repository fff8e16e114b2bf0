package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

// These tests run against the real sqlite driver, not sqlmock, so they
// exercise its parameter-binding semantics along with the SQL text.

func openSQLiteTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteUserStoreRoundTrip(t *testing.T) {
	db := openSQLiteTestDB(t)
	store, err := NewSQLiteUserStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteUserStore() error: %v", err)
	}
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", "oldhash")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected non-zero user id")
	}

	if _, err := store.Create(ctx, "alice", "otherhash"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	byName, err := store.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error: %v", err)
	}
	if byName.ID != created.ID || byName.PasswordHash != "oldhash" {
		t.Fatalf("unexpected user by name: %+v", byName)
	}

	if err := store.UpdatePassword(ctx, created.ID, "newhash"); err != nil {
		t.Fatalf("UpdatePassword() error: %v", err)
	}
	byID, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if byID.PasswordHash != "newhash" {
		t.Fatalf("expected stored hash to change, got %q", byID.PasswordHash)
	}

	if err := store.UpdatePassword(ctx, 9999, "x"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for missing id, got %v", err)
	}
}

func TestSQLiteSessionStoreRoundTrip(t *testing.T) {
	db := openSQLiteTestDB(t)
	store, err := NewSQLSessionStore(db)
	if err != nil {
		t.Fatalf("NewSQLSessionStore() error: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	session := Session{
		Token:     "tok-live",
		UserID:    1,
		Username:  "alice",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	expired := Session{
		Token:     "tok-expired",
		UserID:    2,
		Username:  "bob",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := store.Create(ctx, expired); err != nil {
		t.Fatalf("Create() expired error: %v", err)
	}

	got, err := store.Get(ctx, "tok-live")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Username != "alice" || !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("unexpected session: %+v", got)
	}

	removed, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired session removed, got %d", removed)
	}
	if _, err := store.Get(ctx, "tok-expired"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for swept token, got %v", err)
	}

	if err := store.Delete(ctx, "tok-live"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "tok-live"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}
