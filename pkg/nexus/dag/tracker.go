package dag

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// ExecutionKey identifies one execution: a task reacting to one event instance.
type ExecutionKey struct {
	TaskID  string
	EventID string
}

// String returns "task:event".
func (k ExecutionKey) String() string {
	return k.TaskID + ":" + k.EventID
}

// ExecutionState is the phase of a live execution.
type ExecutionState int

const (
	// StateRunning means a handler attempt is in flight.
	StateRunning ExecutionState = iota
	// StateBackoff means a failed attempt is waiting for its retry.
	StateBackoff
)

// String returns the state name.
func (s ExecutionState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Execution is a snapshot of a live execution.
type Execution struct {
	Key     ExecutionKey
	State   ExecutionState
	Retries int
	Started time.Time
}

// Tracker holds the live executions. An entry exists from the first
// trigger until the execution succeeds or exhausts its retries, and there
// is at most one entry per key.
type Tracker struct {
	mu      sync.Mutex
	entries map[ExecutionKey]*Execution
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[ExecutionKey]*Execution)}
}

// Claim creates a running entry for key. It returns false if an entry
// already exists, in which case the caller must not start an attempt.
func (t *Tracker) Claim(key ExecutionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; ok {
		return false
	}
	t.entries[key] = &Execution{Key: key, State: StateRunning, Started: time.Now()}
	return true
}

// Active reports whether an entry exists for key.
func (t *Tracker) Active(key ExecutionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Retries returns how many retries key has used so far.
func (t *Tracker) Retries(key ExecutionKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.Retries
	}
	return 0
}

// Backoff records a failed attempt. If fewer than maxRetries retries have
// been used it moves the entry to StateBackoff, increments the count, and
// returns the count before incrementing with ok=true. Otherwise the entry is
// left untouched and ok is false.
func (t *Tracker) Backoff(key ExecutionKey, maxRetries int) (retry int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[key]
	if !exists || e.Retries >= maxRetries {
		return 0, false
	}
	retry = e.Retries
	e.Retries++
	e.State = StateBackoff
	return retry, true
}

// Resume moves a backing-off entry back to StateRunning.
func (t *Tracker) Resume(key ExecutionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.State != StateBackoff {
		return false
	}
	e.State = StateRunning
	return true
}

// Release removes the entry for key.
func (t *Tracker) Release(key ExecutionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Len returns the number of live executions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns copies of the live executions ordered by start time.
func (t *Tracker) Snapshot() []Execution {
	t.mu.Lock()
	out := make([]Execution, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b Execution) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.String(), b.Key.String())
	})
	return out
}
