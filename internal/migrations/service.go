package migrations

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type FileInfo struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

type Status struct {
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	Applied   bool   `json:"applied"`
	AppliedAt string `json:"applied_at,omitempty"`
}

// Service tracks which schema files under dir have been applied. Applied
// state lives in the application database itself, so it travels with the data
// regardless of which backend is in use.
type Service struct {
	dir   string
	store *sqlAppliedStore
}

func NewService(dir string, db *sql.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	store := &sqlAppliedStore{db: db}
	if err := store.ensureSchema(); err != nil {
		return nil, err
	}
	return &Service{dir: dir, store: store}, nil
}

func (s *Service) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	out := make([]FileInfo, 0)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		full := filepath.Join(s.dir, e.Name())
		checksum, err := fileSHA256(full)
		if err != nil {
			return nil, fmt.Errorf("hash migration %s: %w", e.Name(), err)
		}
		out = append(out, FileInfo{Name: e.Name(), Checksum: checksum})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) Status() ([]Status, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}

	applied, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(files))
	for _, f := range files {
		appliedAt, ok := applied[f.Name]
		out = append(out, Status{
			Name:      f.Name,
			Checksum:  f.Checksum,
			Applied:   ok,
			AppliedAt: appliedAt,
		})
	}
	return out, nil
}

func (s *Service) MarkApplied(name string, appliedAt time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" || !strings.HasSuffix(name, ".sql") || strings.Contains(name, "/") {
		return fmt.Errorf("invalid migration name")
	}

	full := filepath.Join(s.dir, name)
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("migration does not exist")
		}
		return fmt.Errorf("stat migration: %w", err)
	}

	return s.store.SetApplied(name, appliedAt.UTC())
}

type appliedState map[string]string

// sqlAppliedStore keeps applied timestamps as RFC 3339 text so the same
// statements work against Postgres and SQLite.
type sqlAppliedStore struct {
	db *sql.DB
}

func (s *sqlAppliedStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS migration_applied (
	name TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure migration_applied schema: %w", err)
	}
	return nil
}

func (s *sqlAppliedStore) Load() (appliedState, error) {
	const q = `SELECT name, applied_at FROM migration_applied`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("query migration state: %w", err)
	}
	defer rows.Close()

	out := make(appliedState)
	for rows.Next() {
		var name, appliedAt string
		if err := rows.Scan(&name, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration state: %w", err)
		}
		out[name] = appliedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration state: %w", err)
	}
	return out, nil
}

func (s *sqlAppliedStore) SetApplied(name string, appliedAt time.Time) error {
	const q = `
INSERT INTO migration_applied (name, applied_at)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET applied_at = excluded.applied_at`
	if _, err := s.db.Exec(q, name, appliedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("upsert migration state: %w", err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
