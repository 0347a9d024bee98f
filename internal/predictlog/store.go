// Package predictlog persists a record of every classification request.
package predictlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry is one classification request.
type Entry struct {
	TraceID     string    `json:"trace_id"`
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label,omitempty"`
	Confidence  float64   `json:"confidence"`
	Cached      bool      `json:"cached"`
	Outcome     string    `json:"outcome"`
	CreatedAt   time.Time `json:"created_at"`
}

// Writer persists entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists the most recent entries, newest first.
type Reader interface {
	List(ctx context.Context, limit int) ([]Entry, error)
}

// NoopWriter ignores all writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite or Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// Open picks a writer from driver ("sqlite", "postgres", or "" / "none"
// for NoopWriter).
func Open(driver, dsn string) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none":
		return NoopWriter{}, nil
	case "sqlite":
		return NewSQLiteWriter(dsn)
	case "postgres":
		return NewPostgresWriter(dsn)
	default:
		return nil, fmt.Errorf("unknown prediction log driver %q", driver)
	}
}

func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "dermai-predictions.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite prediction log: %w", err)
	}
	// SQLite allows one writer; a single connection queues concurrent
	// writes instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres prediction log: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s prediction log: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS predictions (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	fingerprint TEXT NOT NULL,
	label TEXT,
	confidence REAL NOT NULL,
	cached BOOLEAN NOT NULL,
	outcome TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);`
	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS predictions (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	fingerprint TEXT NOT NULL,
	label TEXT,
	confidence DOUBLE PRECISION NOT NULL,
	cached BOOLEAN NOT NULL,
	outcome TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize prediction log schema: %w", err)
	}
	return nil
}

func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO predictions(trace_id, fingerprint, label, confidence, cached, outcome, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == "postgres" {
		query = `INSERT INTO predictions(trace_id, fingerprint, label, confidence, cached, outcome, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7)`
	}

	_, err := w.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Fingerprint,
		entry.Label,
		entry.Confidence,
		entry.Cached,
		entry.Outcome,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write prediction log: %w", err)
	}
	return nil
}

func (w *SQLWriter) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT trace_id, fingerprint, label, confidence, cached, outcome, created_at
	FROM predictions ORDER BY created_at DESC, id DESC LIMIT ?`
	if w.dialect == "postgres" {
		query = `SELECT trace_id, fingerprint, label, confidence, cached, outcome, created_at
		FROM predictions ORDER BY created_at DESC, id DESC LIMIT $1`
	}

	rows, err := w.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list prediction log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			traceID sql.NullString
			label   sql.NullString
		)
		if err := rows.Scan(&traceID, &e.Fingerprint, &label, &e.Confidence, &e.Cached, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction log: %w", err)
		}
		e.TraceID = traceID.String
		e.Label = label.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
