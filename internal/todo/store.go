package todo

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Store interface {
	Insert(ctx context.Context, title string, userID int64, createdAt time.Time) (int64, error)
	// List returns every todo in insertion order, with User filled in from
	// the owning user's public fields when the row has a real owner.
	List(ctx context.Context) ([]Todo, error)
	// Delete reports how many rows matched; zero is not an error.
	Delete(ctx context.Context, id int64) (int64, error)
}

type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	todos  map[int64]Todo
	owners map[int64]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		todos:  make(map[int64]Todo),
		owners: make(map[int64]string),
	}
}

// PutOwner registers a user id to username mapping so List can resolve owner
// display names the way the SQL stores do with a join.
func (s *InMemoryStore) PutOwner(userID int64, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[userID] = username
}

func (s *InMemoryStore) Insert(_ context.Context, title string, userID int64, createdAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.todos[s.nextID] = Todo{
		ID:        s.nextID,
		Title:     title,
		User:      &Owner{ID: userID},
		Completed: false,
		CreatedAt: createdAt,
	}
	return s.nextID, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Todo, 0, len(s.todos))
	for _, t := range s.todos {
		userID := t.User.ID
		if username, ok := s.owners[userID]; ok && userID != GuestUserID {
			t.User = &Owner{ID: userID, Username: username}
		} else {
			t.User = nil
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.todos[id]; !ok {
		return 0, nil
	}
	delete(s.todos, id)
	return 1, nil
}
