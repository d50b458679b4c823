package event

import (
	"context"
	"sync"
)

// Handler receives dispatched events.
type Handler func(ctx context.Context, evt Event) error

// subscription pairs a compiled pattern with its handler.
type subscription struct {
	pattern Pattern
	handler Handler
}

// DispatchTable holds subscriptions in registration order.
// It is read-mostly: writes happen only on Add.
type DispatchTable struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewDispatchTable creates an empty table.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{}
}

// Add registers handler for pattern.
func (t *DispatchTable) Add(pattern string, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, subscription{
		pattern: CompilePattern(pattern),
		handler: handler,
	})
}

// match returns the subscriptions selecting name, in registration order.
func (t *DispatchTable) match(name string) []subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []subscription
	for _, s := range t.subs {
		if s.pattern.Matches(name) {
			matched = append(matched, s)
		}
	}
	return matched
}

// Patterns returns the registered patterns in registration order.
func (t *DispatchTable) Patterns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, len(t.subs))
	for i, s := range t.subs {
		out[i] = s.pattern.String()
	}
	return out
}

// Len returns the number of subscriptions.
func (t *DispatchTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
