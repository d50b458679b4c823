package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// SQLiteIndex mirrors events into SQLite so they can be queried by id,
// name pattern, or position. The JSONL file stays the source of truth;
// the index can always be rebuilt from it with Import.
type SQLiteIndex struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Record is an indexed event together with its position in the index.
type Record struct {
	Seq   int64
	Event event.Event
}

// ListOptions filters List results.
type ListOptions struct {
	// Pattern selects event names; empty means all events.
	Pattern string
	// AfterSeq returns only records with a larger sequence number.
	AfterSeq int64
	// Limit caps the number of records; zero means no limit.
	Limit int
}

// NewSQLiteIndex opens or creates an index database.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes ordered.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			payload TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_name
		ON events(name)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Append implements event.Log. Re-appending a known id is a no-op.
func (s *SQLiteIndex) Append(ctx context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	_, err := s.insert(ctx, evt)
	return err
}

// insert writes one event and reports whether a row was added.
func (s *SQLiteIndex) insert(ctx context.Context, evt event.Event) (bool, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, name, payload, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, evt.ID, evt.Name, string(payload), evt.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("index event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("index event: %w", err)
	}
	return n > 0, nil
}

// Import indexes every event in a JSONL stream, skipping ids already present.
// It returns the number of newly indexed events.
func (s *SQLiteIndex) Import(ctx context.Context, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	added := 0
	err := Replay(r, func(evt event.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.insert(ctx, evt)
		if ok {
			added++
		}
		return err
	})
	return added, err
}

// Load returns the event with the given id.
// Returns ErrNotFound if the event is not indexed.
func (s *SQLiteIndex) Load(ctx context.Context, id string) (event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return event.Event{}, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, name, payload, timestamp FROM events
		WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, ErrNotFound
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("load event: %w", err)
	}
	return rec.Event, nil
}

// List returns indexed events in log order.
// Pattern filtering uses the same matching rules as the bus.
func (s *SQLiteIndex) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, name, payload, timestamp
		FROM events
		WHERE seq > ?
		ORDER BY seq
	`, opts.AfterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var match event.Pattern
	if opts.Pattern != "" {
		match = event.CompilePattern(opts.Pattern)
	}

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if opts.Pattern != "" && !match.Matches(rec.Event.Name) {
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Count returns the number of indexed events.
func (s *SQLiteIndex) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Close releases the database. Calling Close more than once is safe.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		payload   string
		timestamp string
	)
	if err := row.Scan(&rec.Seq, &rec.Event.ID, &rec.Event.Name, &payload, &timestamp); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Event.Payload); err != nil {
		return Record{}, fmt.Errorf("decode payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("decode timestamp: %w", err)
	}
	rec.Event.Timestamp = ts
	return rec, nil
}
