package books

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore keeps each book as a JSON document keyed by its ID.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore creates a SQLite-backed store. dsn defaults to
// dermai-books.db.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "dermai-books.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection serialises writers; SQLite would otherwise report
	// SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, dialectSQLite)
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return newSQLStore(db, dialectPostgres)
}

func newSQLStore(db *sql.DB, dialect sqlDialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS books (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	doc TEXT NOT NULL
);`
	if s.dialect == dialectPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS books (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT UNIQUE NOT NULL,
	doc JSONB NOT NULL
);`
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s store schema: %w", s.dialect, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM books ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	out := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (Book, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT doc FROM books WHERE id = ?`), id.String())
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, err
}

func (s *SQLStore) Create(ctx context.Context, b Book) (Book, error) {
	b, err := prepare(b)
	if err != nil {
		return Book{}, err
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return Book{}, fmt.Errorf("encode book: %w", err)
	}

	if _, err := s.Get(ctx, b.ID); err == nil {
		return Book{}, fmt.Errorf("%w: %s", ErrExists, b.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return Book{}, err
	}

	if _, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO books(id, doc) VALUES(?, ?)`), b.ID.String(), string(doc)); err != nil {
		return Book{}, fmt.Errorf("insert book: %w", err)
	}
	return b, nil
}

func (s *SQLStore) Update(ctx context.Context, id uuid.UUID, b Book) (Book, error) {
	if err := b.Validate(); err != nil {
		return Book{}, err
	}
	b.ID = id
	doc, err := json.Marshal(b)
	if err != nil {
		return Book{}, fmt.Errorf("encode book: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.bind(`UPDATE books SET doc = ? WHERE id = ?`), string(doc), id.String())
	if err != nil {
		return Book{}, fmt.Errorf("update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Book{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, nil
}

func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM books WHERE id = ?`), id.String())
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanBook(scanner interface{ Scan(dest ...any) error }) (Book, error) {
	var doc []byte
	if err := scanner.Scan(&doc); err != nil {
		return Book{}, err
	}
	var b Book
	if err := json.Unmarshal(doc, &b); err != nil {
		return Book{}, fmt.Errorf("decode book: %w", err)
	}
	return b, nil
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var (
		b      strings.Builder
		argNum = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", argNum)
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
