package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// FileLog appends events to a JSONL file.
// Each event is written with a single write call while holding the lock,
// so concurrent appends never interleave.
type FileLog struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	sync   bool
	closed bool
}

// FileOption configures a FileLog.
type FileOption func(*FileLog)

// WithSync fsyncs the file after every append.
// Default: false (rely on the OS page cache).
func WithSync(enabled bool) FileOption {
	return func(l *FileLog) {
		l.sync = enabled
	}
}

// OpenFile opens (creating if needed) the log at path for appending.
func OpenFile(path string, opts ...FileOption) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := &FileLog{f: f, path: path}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the file path of the log.
func (l *FileLog) Path() string {
	return l.path
}

// Append implements event.Log.
func (l *FileLog) Append(_ context.Context, evt event.Event) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if l.sync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("sync event log: %w", err)
		}
	}
	return nil
}

// Close closes the underlying file. Calling Close more than once is safe.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}
