package eventlog

import (
	"context"
	"sync"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// MemoryLog is an in-memory event log for testing.
// Data is lost when the process exits.
type MemoryLog struct {
	mu     sync.RWMutex
	events []event.Event
	err    error
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements event.Log.
func (m *MemoryLog) Append(_ context.Context, evt event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, evt)
	return nil
}

// FailWith makes every following Append return err. Pass nil to recover.
func (m *MemoryLog) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Events returns a snapshot of the appended events in order.
func (m *MemoryLog) Events() []event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]event.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Named returns the appended events whose name matches pattern.
func (m *MemoryLog) Named(pattern string) []event.Event {
	p := event.CompilePattern(pattern)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []event.Event
	for _, evt := range m.events {
		if p.Matches(evt.Name) {
			out = append(out, evt)
		}
	}
	return out
}

// Len returns the number of appended events.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
