package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one journaled file operation.
type Entry struct {
	ID       int64
	Time     time.Time
	Session  string
	Peer     string
	Command  string
	Resource string
	Status   string
	Duration time.Duration
}

// Recorder accepts journal entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries; used when the journal is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Store persists entries in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts e. A zero Time is replaced by the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (recorded_at, session, peer, command, resource, status, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().UnixNano(),
		e.Session,
		nullableString(e.Peer),
		e.Command,
		nullableString(e.Resource),
		e.Status,
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recorded_at, session, peer, command, resource, status, duration_ms
         FROM operations ORDER BY recorded_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			recordedAt int64
			peer       sql.NullString
			resource   sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &recordedAt, &e.Session, &peer, &e.Command, &resource, &e.Status, &durationMS); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Time = time.Unix(0, recordedAt).UTC()
		e.Peer = peer.String
		e.Resource = resource.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM operations WHERE recorded_at < ?", cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
