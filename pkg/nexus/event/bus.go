package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/nexus/pkg/nexus/observability"
)

// Log is the durable, append-only record of published events.
// Implementations must be safe for concurrent use.
type Log interface {
	// Append persists evt. It must not return until the event is durable
	// to the extent the implementation promises.
	Append(ctx context.Context, evt Event) error
}

// Bus logs every published event and dispatches it to matching subscribers.
type Bus struct {
	log   Log
	table *DispatchTable

	// appendMu serializes appends so log order matches publish order.
	appendMu sync.Mutex

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	now            func() time.Time
	onHandlerError func(err *SubscriberError)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report subscriber failures.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}.
func WithMetrics(m observability.MetricsRecorder) BusOption {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager.
// Default: observability.NoopSpanManager{}.
func WithSpanManager(s observability.SpanManager) BusOption {
	return func(b *Bus) {
		if s != nil {
			b.spans = s
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// OnHandlerError registers a callback invoked for every failed subscriber.
func OnHandlerError(fn func(err *SubscriberError)) BusOption {
	return func(b *Bus) {
		b.onHandlerError = fn
	}
}

// NewBus creates a bus appending to log.
func NewBus(log Log, opts ...BusOption) *Bus {
	b := &Bus{
		log:     log,
		table:   NewDispatchTable(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish creates an event, appends it to the log, then synchronously
// invokes every matching subscriber in registration order.
//
// A log failure is returned as *LogWriteError and the event is not
// dispatched. Subscriber failures are reported but never returned.
func (b *Bus) Publish(ctx context.Context, name string, payload any) (Event, error) {
	ctx, span := b.spans.StartPublishSpan(ctx, name)

	if err := ValidateName(name); err != nil {
		b.metrics.RecordPublish(ctx, name, 0, err)
		b.spans.EndSpanWithError(span, err)
		return Event{}, err
	}

	evt, err := b.append(ctx, name, payload)
	if err != nil {
		observability.LogPublishError(b.logger, name, err)
		b.metrics.RecordPublish(ctx, name, 0, err)
		b.spans.EndSpanWithError(span, err)
		return Event{}, err
	}

	b.spans.AddSpanEvent(ctx, "event.logged", attribute.String("event.id", evt.ID))

	n := b.dispatch(ctx, evt)
	b.metrics.RecordPublish(ctx, name, n, nil)
	b.spans.EndSpanWithError(span, nil)
	return evt, nil
}

// append builds and persists the event under the append lock.
// The timestamp is taken inside the lock so log order and time order agree.
func (b *Bus) append(ctx context.Context, name string, payload any) (Event, error) {
	b.appendMu.Lock()
	defer b.appendMu.Unlock()

	evt := newEvent(name, payload, b.now())
	if err := b.log.Append(ctx, evt); err != nil {
		return Event{}, &LogWriteError{EventID: evt.ID, Name: name, Err: err}
	}
	return evt, nil
}

// dispatch runs matching subscribers and returns how many were invoked.
func (b *Bus) dispatch(ctx context.Context, evt Event) int {
	subs := b.table.match(evt.Name)
	for _, s := range subs {
		b.invoke(ctx, s, evt)
	}
	return len(subs)
}

// invoke runs one subscriber, isolating its error or panic from the others.
func (b *Bus) invoke(ctx context.Context, s subscription, evt Event) {
	var subErr *SubscriberError
	func() {
		defer func() {
			if r := recover(); r != nil {
				subErr = &SubscriberError{Pattern: s.pattern.String(), Event: evt, Panic: r}
			}
		}()
		if err := s.handler(ctx, evt); err != nil {
			subErr = &SubscriberError{Pattern: s.pattern.String(), Event: evt, Err: err}
		}
	}()

	if subErr == nil {
		return
	}
	observability.LogSubscriberError(b.logger, subErr.Pattern, evt.ID, subErr)
	b.metrics.RecordSubscriberError(ctx, subErr.Pattern)
	if b.onHandlerError != nil {
		b.onHandlerError(subErr)
	}
}

// Subscribe registers handler for every event whose name matches pattern.
// Subscriptions live as long as the bus.
func (b *Bus) Subscribe(pattern string, handler Handler) {
	b.table.Add(pattern, handler)
}

// Subscribers returns the number of registered subscriptions.
func (b *Bus) Subscribers() int {
	return b.table.Len()
}

// Patterns returns the registered patterns in registration order.
func (b *Bus) Patterns() []string {
	return b.table.Patterns()
}
