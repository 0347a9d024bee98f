// Package books is a small catalogue API served next to the classifier:
// validated book records kept in memory or as JSON documents in SQL.
package books

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no book has the requested ID.
	ErrNotFound = errors.New("book not found")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid book")
	// ErrExists is returned when creating a book whose ID is taken.
	ErrExists = errors.New("book already exists")
)

// Book is one catalogue entry.
type Book struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Rating      int       `json:"rating"`
}

// Validate enforces field lengths (in characters) and the 0-5 rating range.
func (b Book) Validate() error {
	if err := checkLen("name", b.Name, 50); err != nil {
		return err
	}
	if err := checkLen("author", b.Author, 50); err != nil {
		return err
	}
	if err := checkLen("description", b.Description, 200); err != nil {
		return err
	}
	if b.Rating < 0 || b.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 0 and 5, got %d", ErrInvalid, b.Rating)
	}
	return nil
}

func checkLen(field, v string, max int) error {
	n := utf8.RuneCountInString(v)
	if n < 1 || n > max {
		return fmt.Errorf("%w: %s must be 1-%d characters, got %d", ErrInvalid, field, max, n)
	}
	return nil
}

// Store persists books in insertion order.
type Store interface {
	List(ctx context.Context) ([]Book, error)
	Get(ctx context.Context, id uuid.UUID) (Book, error)
	// Create assigns a new ID when b.ID is the zero UUID.
	Create(ctx context.Context, b Book) (Book, error)
	// Update replaces the book stored under id. The stored ID is kept.
	Update(ctx context.Context, id uuid.UUID, b Book) (Book, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// prepare validates b and fills in a missing ID.
func prepare(b Book) (Book, error) {
	if err := b.Validate(); err != nil {
		return Book{}, err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return b, nil
}

// Open picks a store from driver ("memory" or "", "sqlite", "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown books driver %q", driver)
	}
}
