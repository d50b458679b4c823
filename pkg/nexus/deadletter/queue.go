package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/nexus/pkg/nexus/dag"
	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// Kind says what failed.
type Kind string

const (
	// KindTask is a task that exhausted its retries.
	KindTask Kind = "task"
	// KindSubscriber is a bus subscriber that returned an error or panicked.
	KindSubscriber Kind = "subscriber"
)

// FailedPattern matches every task failure event.
const FailedPattern = "task.*.failed"

var (
	// ErrNotFound indicates an unknown dead letter id.
	ErrNotFound = errors.New("dead letter not found")
	// ErrPoisoned indicates a dead letter whose failure keeps repeating.
	ErrPoisoned = errors.New("dead letter is poisoned")
	// ErrNotRedrivable indicates a subscriber failure; only tasks can be rerun.
	ErrNotRedrivable = errors.New("dead letter cannot be redriven")
)

// Entry is one failure that nothing will retry on its own.
type Entry struct {
	// ID is the task.<id>.failed event id, or "<pattern>@<event id>" for a
	// subscriber failure.
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Source is the task id or the subscriber pattern.
	Source string `json:"source"`
	// EventID is the event that started the failed work.
	EventID string `json:"eventId"`
	// EventName is known for subscriber failures only.
	EventName string    `json:"eventName,omitempty"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failedAt"`
	// Failures counts failures with the same fingerprint in the window.
	Failures int  `json:"failures"`
	Poisoned bool `json:"poisoned"`
}

// Config configures a Queue.
type Config struct {
	// MaxSize bounds the queue; the oldest entry is evicted when full.
	// Default: 1000
	MaxSize int

	// Threshold is the number of identical failures that poisons them.
	// Default: 3
	Threshold int

	// Window is how long identical failures are counted together.
	// Default: 1 hour
	Window time.Duration

	// OnPoison is called once when a fingerprint becomes poisoned.
	OnPoison func(Entry)

	// Clock replaces time.Now.
	Clock func() time.Time
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize:   1000,
	Threshold: 3,
	Window:    time.Hour,
}

// Stats describes a queue.
type Stats struct {
	Size     int
	Poisoned int
	Recorded int64
	Evicted  int64
	Redriven int64
}

// Bus is the part of the event bus a queue watches.
type Bus interface {
	Subscribe(pattern string, handler event.Handler)
}

// Source looks up logged events by id; eventlog.SQLiteIndex is one.
type Source interface {
	Load(ctx context.Context, id string) (event.Event, error)
}

// Runner reruns a task for a trigger event; dag.Orchestrator is one.
type Runner interface {
	Rerun(taskID string, trigger event.Event) error
}

// Queue collects failed task executions and failed subscribers so they can
// be inspected, redriven or discarded.
type Queue struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	order    []string
	detector *Detector
	cfg      Config
	logger   *slog.Logger
	stats    Stats
}

// New creates a queue. Zero Config fields take DefaultConfig values.
func New(cfg Config, logger *slog.Logger) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		entries:  make(map[string]*Entry),
		detector: NewDetector(cfg.Threshold, cfg.Window, cfg.Clock),
		cfg:      cfg,
		logger:   logger,
	}
}

// Watch records every task failure published on bus.
func (q *Queue) Watch(bus Bus) {
	bus.Subscribe(FailedPattern, func(_ context.Context, evt event.Event) error {
		return q.RecordFailure(evt)
	})
}

// RecordFailure records a task.<id>.failed event, live or read back from a
// log. Success results are ignored.
func (q *Queue) RecordFailure(evt event.Event) error {
	res, err := dag.DecodeResult(evt.Payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", evt, err)
	}
	if res.Status != dag.StatusFailure {
		return nil
	}
	q.record(Entry{
		ID:       evt.ID,
		Kind:     KindTask,
		Source:   res.TaskID,
		EventID:  res.TriggerEventID,
		Error:    res.Error,
		FailedAt: evt.Timestamp,
	})
	return nil
}

// RecordSubscriberError records a failed subscriber. Pass it to
// event.OnHandlerError.
func (q *Queue) RecordSubscriberError(err *event.SubscriberError) {
	reason := fmt.Sprintf("panic: %v", err.Panic)
	if err.Panic == nil && err.Err != nil {
		reason = err.Err.Error()
	}
	q.record(Entry{
		ID:        err.Pattern + "@" + err.Event.ID,
		Kind:      KindSubscriber,
		Source:    err.Pattern,
		EventID:   err.Event.ID,
		EventName: err.Event.Name,
		Error:     reason,
		FailedAt:  q.cfg.Clock(),
	})
}

func (q *Queue) record(e Entry) {
	if e.FailedAt.IsZero() {
		e.FailedAt = q.cfg.Clock()
	}
	n, poisoned := q.detector.RecordAt(Fingerprint(e.Kind, e.Source, e.Error), e.FailedAt)
	e.Failures = n
	e.Poisoned = poisoned

	q.mu.Lock()
	if _, dup := q.entries[e.ID]; !dup {
		q.order = append(q.order, e.ID)
	}
	q.entries[e.ID] = &e
	q.stats.Recorded++
	var evicted string
	if len(q.order) > q.cfg.MaxSize {
		evicted = q.order[0]
		q.order = q.order[1:]
		delete(q.entries, evicted)
		q.stats.Evicted++
	}
	q.mu.Unlock()

	q.logger.Warn("dead letter recorded",
		slog.String("id", e.ID),
		slog.String("kind", string(e.Kind)),
		slog.String("source", e.Source),
		slog.String("event_id", e.EventID),
		slog.String("error", e.Error),
		slog.Int("failures", e.Failures),
	)
	if evicted != "" {
		q.logger.Warn("dead letter evicted", slog.String("id", evicted))
	}
	if poisoned && n == q.cfg.Threshold {
		q.logger.Error("repeated failure poisoned",
			slog.String("kind", string(e.Kind)),
			slog.String("source", e.Source),
			slog.String("error", e.Error),
			slog.Int("failures", n),
		)
		if q.cfg.OnPoison != nil {
			q.cfg.OnPoison(e)
		}
	}
}

// Get returns the entry with id.
func (q *Queue) Get(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns the entries, oldest first.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.entries[id])
	}
	return out
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Size = len(q.order)
	for _, e := range q.entries {
		if e.Poisoned {
			s.Poisoned++
		}
	}
	return s
}

// Discard removes the entry with id.
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) error {
	if _, ok := q.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(q.entries, id)
	q.order = slices.DeleteFunc(q.order, func(s string) bool { return s == id })
	return nil
}

// Redrive reruns the failed task of entry id with its original trigger
// event, loaded from src. The entry is removed once the rerun has started.
// Poisoned entries and subscriber failures are refused.
func (q *Queue) Redrive(ctx context.Context, id string, src Source, run Runner) error {
	e, ok := q.Get(id)
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case e.Kind != KindTask:
		return fmt.Errorf("%w: %s is a %s failure", ErrNotRedrivable, id, e.Kind)
	case e.Poisoned:
		return fmt.Errorf("%w: %s failed %d times with %q", ErrPoisoned, e.Source, e.Failures, e.Error)
	}

	trigger, err := src.Load(ctx, e.EventID)
	if err != nil {
		return fmt.Errorf("load trigger %s: %w", e.EventID, err)
	}
	if err := run.Rerun(e.Source, trigger); err != nil {
		return fmt.Errorf("rerun %s: %w", e.Source, err)
	}

	q.mu.Lock()
	_ = q.removeLocked(id)
	q.stats.Redriven++
	q.mu.Unlock()

	q.logger.Info("dead letter redriven",
		slog.String("id", id),
		slog.String("task_id", e.Source),
		slog.String("event_id", trigger.ID),
	)
	return nil
}
