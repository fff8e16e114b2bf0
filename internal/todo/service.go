package todo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var ErrEmptyTitle = errors.New("todo title is required")

// Service wraps a Store with validation and a version counter. The counter is
// bumped on every successful mutation so the view layer can cheaply detect
// that its last read is stale.
type Service struct {
	store   Store
	nowFunc func() time.Time
	version atomic.Int64
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("todo store is required")
	}
	return &Service{
		store:   store,
		nowFunc: time.Now,
	}, nil
}

func (s *Service) List(ctx context.Context) ([]Todo, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return items, nil
}

// Add inserts a todo owned by the acting user, or the guest sentinel when
// owner is nil. The title is deliberately not trimmed and duplicates are
// permitted; only the empty string is rejected.
func (s *Service) Add(ctx context.Context, title string, owner *Owner) (Todo, error) {
	if title == "" {
		return Todo{}, ErrEmptyTitle
	}

	userID := GuestUserID
	if owner != nil {
		userID = owner.ID
	}
	createdAt := s.nowFunc().UTC()
	id, err := s.store.Insert(ctx, title, userID, createdAt)
	if err != nil {
		return Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	s.version.Add(1)

	return Todo{
		ID:        id,
		Title:     title,
		User:      owner,
		Completed: false,
		CreatedAt: createdAt,
	}, nil
}

// Delete removes a todo by id. A missing id affects zero rows and still
// reports success; callers rely on deletes being idempotent.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	s.version.Add(1)
	return nil
}

func (s *Service) Version() int64 {
	return s.version.Load()
}
