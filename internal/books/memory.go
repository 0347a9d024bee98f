package books

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	books []Book
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) List(_ context.Context) ([]Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Book, len(s.books))
	copy(out, s.books)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return Book{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.books[i], nil
}

func (s *MemoryStore) Create(_ context.Context, b Book) (Book, error) {
	b, err := prepare(b)
	if err != nil {
		return Book{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index(b.ID) >= 0 {
		return Book{}, fmt.Errorf("%w: %s", ErrExists, b.ID)
	}
	s.books = append(s.books, b)
	return b, nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, b Book) (Book, error) {
	if err := b.Validate(); err != nil {
		return Book{}, err
	}
	b.ID = id
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Book{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.books[i] = b
	return b, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.books = append(s.books[:i], s.books[i+1:]...)
	return nil
}

// index scans the whole collection; callers hold mu.
func (s *MemoryStore) index(id uuid.UUID) int {
	for i := range s.books {
		if s.books[i].ID == id {
			return i
		}
	}
	return -1
}
