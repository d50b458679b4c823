// Package eventlog provides durable storage for published events.
//
// FileLog is the source of truth: one JSON object per line, UTF-8, fields
// id, name, payload, timestamp, append-only, never compacted or rotated.
// Replay and ReadFile read that format back in order for audit and replay
// tooling. SQLiteIndex mirrors events into SQLite for querying, and Multi
// fans an append out to several logs.
package eventlog

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// Sentinel errors for event log operations.
var (
	// ErrClosed indicates the log has been closed.
	ErrClosed = errors.New("event log closed")

	// ErrNotFound indicates an event id is not present in the index.
	ErrNotFound = errors.New("event not found")
)

// ParseError reports a log line that could not be decoded.
type ParseError struct {
	// Line is the 1-based line number.
	Line int
	// Err is the decoding error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("event log line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Compile-time interface checks.
var (
	_ event.Log = (*FileLog)(nil)
	_ event.Log = (*MemoryLog)(nil)
	_ event.Log = (*SQLiteIndex)(nil)
	_ event.Log = MultiLog(nil)
)
