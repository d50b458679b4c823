package dag

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
	"github.com/randalmurphal/nexus/pkg/nexus/observability"
	"github.com/randalmurphal/nexus/pkg/nexus/registry"
	"github.com/randalmurphal/nexus/pkg/nexus/retry"
)

// HandlerFunc does the work of a task. It receives the triggering event's
// payload; its output becomes TaskResult.Output of the completion event.
type HandlerFunc func(ctx context.Context, payload any) (any, error)

// Bus is the part of the event bus the orchestrator uses.
type Bus interface {
	Publish(ctx context.Context, name string, payload any) (event.Event, error)
	Subscribe(pattern string, handler event.Handler)
}

// Reasons reported when a trigger does not start an execution.
const (
	dropActive          = "active"
	dropHandlerNotFound = "handler_not_found"
	dropShutdown        = "shutdown"
)

// Orchestrator binds DAG tasks to bus events and runs their executions.
type Orchestrator struct {
	bus      Bus
	handlers *registry.Registry[string, HandlerFunc]
	dags     *registry.Registry[string, Definition]
	tracker  *Tracker
	backoff  retry.Backoff

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	// ctx is passed to handlers and cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed and timers, and orders wg.Add against Shutdown.
	mu     sync.Mutex
	closed bool
	timers map[ExecutionKey]*time.Timer
	wg     sync.WaitGroup
}

// New creates an orchestrator publishing outcomes on bus.
func New(bus Bus, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		bus:      bus,
		handlers: registry.New[string, HandlerFunc](),
		dags:     registry.New[string, Definition](),
		tracker:  NewTracker(),
		backoff:  retry.DefaultBackoff,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[ExecutionKey]*time.Timer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterHandler binds fn to name, replacing any earlier binding.
// Tasks are not checked against registered names until they are triggered.
func (o *Orchestrator) RegisterHandler(name string, fn HandlerFunc) {
	o.handlers.Register(name, fn)
}

// Handlers returns the registered handler names.
func (o *Orchestrator) Handlers() []string {
	return o.handlers.Keys()
}

// LoadDAG validates def and subscribes every trigger of every task.
// A task with no triggers is loaded with a warning and never runs.
// Loading more definitions adds subscriptions; nothing is ever unsubscribed,
// so loading the same definition twice makes each trigger fire twice (the
// second delivery is dropped as a duplicate of the first).
func (o *Orchestrator) LoadDAG(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	subs := 0
	for _, task := range def.Tasks {
		if len(task.Triggers) == 0 {
			o.logger.Warn("task has no triggers and will never run",
				slog.String("dag_id", def.ID),
				slog.String("task_id", task.ID),
			)
			continue
		}
		task.Triggers = slices.Clone(task.Triggers)
		handler := o.trigger(task)
		for _, pattern := range task.Triggers {
			o.bus.Subscribe(pattern, handler)
			subs++
		}
	}

	if cycle := def.Graph().Cycle(); cycle != nil {
		o.logger.Warn("dag completion triggers form a cycle",
			slog.String("dag_id", def.ID),
			slog.Any("cycle", cycle),
		)
	}

	o.dags.Register(def.ID, def)
	observability.LogDAGLoaded(o.logger, def.ID, len(def.Tasks), subs)
	return nil
}

// Definitions returns the loaded definitions ordered by id.
func (o *Orchestrator) Definitions() []Definition {
	return o.dags.Values()
}

// Executions returns a snapshot of the live executions.
func (o *Orchestrator) Executions() []Execution {
	return o.tracker.Snapshot()
}

// Pending returns the number of live executions.
func (o *Orchestrator) Pending() int {
	return o.tracker.Len()
}

// trigger returns the bus handler for task. It runs synchronously inside
// Publish: the claim happens before Publish returns, the attempt runs on
// its own goroutine. Dropped triggers are logged and counted by start.
func (o *Orchestrator) trigger(task Task) event.Handler {
	return func(ctx context.Context, evt event.Event) error {
		_ = o.start(ctx, task, evt)
		return nil
	}
}

// Rerun starts a new execution of taskID for trigger, as if trigger had
// just been delivered to it. It is meant for executions that already
// failed: the key is free again once the failure event was published.
// When several loaded DAGs define taskID, the first by DAG id is used.
func (o *Orchestrator) Rerun(taskID string, trigger event.Event) error {
	for _, def := range o.dags.Values() {
		if task, ok := def.Task(taskID); ok {
			return o.start(context.Background(), task, trigger)
		}
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// start claims the execution key for (task, evt) and launches its first
// attempt.
func (o *Orchestrator) start(ctx context.Context, task Task, evt event.Event) error {
	key := ExecutionKey{TaskID: task.ID, EventID: evt.ID}

	if o.tracker.Active(key) {
		observability.LogTriggerDropped(o.logger, task.ID, evt.ID)
		o.metrics.RecordTriggerDropped(ctx, task.ID, dropActive)
		return ErrExecutionActive
	}

	if _, ok := o.handlers.Get(task.Handler); !ok {
		observability.LogHandlerNotFound(o.logger, task.ID, task.Handler, evt.ID)
		o.metrics.RecordTriggerDropped(ctx, task.ID, dropHandlerNotFound)
		return &HandlerNotFoundError{TaskID: task.ID, Handler: task.Handler}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.metrics.RecordTriggerDropped(ctx, task.ID, dropShutdown)
		return ErrShutdown
	}
	if !o.tracker.Claim(key) {
		observability.LogTriggerDropped(o.logger, task.ID, evt.ID)
		o.metrics.RecordTriggerDropped(ctx, task.ID, dropActive)
		return ErrExecutionActive
	}

	o.wg.Add(1)
	go o.attempt(task, evt)
	return nil
}

// attempt runs one handler invocation and moves the execution to its next state.
func (o *Orchestrator) attempt(task Task, evt event.Event) {
	defer o.wg.Done()

	key := ExecutionKey{TaskID: task.ID, EventID: evt.ID}
	n := o.tracker.Retries(key) + 1
	logger := observability.EnrichLogger(o.logger, task.ID, evt.ID, n)

	ctx, span := o.spans.StartTaskSpan(o.ctx, task.ID, evt.ID, n)
	observability.LogTaskStart(logger, evt.Name)
	elapsed := observability.TimedOperation()
	start := time.Now()

	output, err := o.invoke(ctx, task, evt, n)
	o.metrics.RecordTaskAttempt(ctx, task.ID, time.Since(start), err)

	if err == nil {
		observability.LogTaskComplete(logger, elapsed())
		o.finish(ctx, key, TaskResult{
			TaskID:         task.ID,
			Status:         StatusSuccess,
			Output:         output,
			TriggerEventID: evt.ID,
		})
		o.spans.EndSpanWithError(span, nil)
		return
	}

	if retried, ok := o.tracker.Backoff(key, task.MaxRetries); ok {
		delay := o.backoff.Delay(retried)
		observability.LogTaskRetry(logger, err, delay, retried+1, task.MaxRetries)
		o.metrics.RecordTaskRetry(ctx, task.ID, delay)
		o.spans.AddSpanEvent(ctx, "task.retry_scheduled",
			attribute.Int64("delay_ms", delay.Milliseconds()),
			attribute.Int("retry", retried+1),
		)
		o.schedule(key, task, evt, delay)
		o.spans.EndSpanWithError(span, err)
		return
	}

	observability.LogTaskFailed(logger, err, n)
	o.finish(ctx, key, TaskResult{
		TaskID:         task.ID,
		Status:         StatusFailure,
		Error:          reason(err),
		TriggerEventID: evt.ID,
	})
	o.spans.EndSpanWithError(span, err)
}

// invoke calls the task's handler, converting errors and panics into
// *HandlerExecutionError.
func (o *Orchestrator) invoke(ctx context.Context, task Task, evt event.Event, attempt int) (output any, err error) {
	fn, ok := o.handlers.Get(task.Handler)
	if !ok {
		return nil, &HandlerExecutionError{
			TaskID: task.ID, EventID: evt.ID, Attempt: attempt,
			Err: &HandlerNotFoundError{TaskID: task.ID, Handler: task.Handler},
		}
	}

	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &HandlerExecutionError{TaskID: task.ID, EventID: evt.ID, Attempt: attempt, Panic: r}
		}
	}()

	output, err = fn(ctx, evt.Payload)
	if err != nil {
		return nil, &HandlerExecutionError{TaskID: task.ID, EventID: evt.ID, Attempt: attempt, Err: err}
	}
	return output, nil
}

// reason extracts the message reported in a failure TaskResult.
func reason(err error) string {
	if he, ok := err.(*HandlerExecutionError); ok {
		return he.Reason()
	}
	return err.Error()
}

// finish publishes the outcome event, then removes the execution entry.
// An outcome that cannot be logged is reported but cannot become an event.
// The outcome is published even when Shutdown has cancelled ctx, so an
// attempt that returns while shutting down still reaches every log.
func (o *Orchestrator) finish(ctx context.Context, key ExecutionKey, result TaskResult) {
	name := CompletedEvent(result.TaskID)
	if result.Status == StatusFailure {
		name = FailedEvent(result.TaskID)
	}

	ctx = context.WithoutCancel(ctx)
	if _, err := o.bus.Publish(ctx, name, result); err != nil {
		observability.LogOutcomeError(o.logger, name, err)
	}
	o.tracker.Release(key)
	o.metrics.RecordTaskOutcome(ctx, result.TaskID, string(result.Status))
}

// schedule re-enters the execution after delay.
func (o *Orchestrator) schedule(key ExecutionKey, task Task, evt event.Event, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.abandon(key)
		return
	}

	o.wg.Add(1)
	o.timers[key] = time.AfterFunc(delay, func() {
		o.mu.Lock()
		delete(o.timers, key)
		o.mu.Unlock()

		o.tracker.Resume(key)
		o.attempt(task, evt)
	})
}

// abandon drops a pending retry during shutdown. Callers hold o.mu.
func (o *Orchestrator) abandon(key ExecutionKey) {
	o.tracker.Release(key)
	o.logger.Warn("retry abandoned on shutdown",
		slog.String("task_id", key.TaskID),
		slog.String("event_id", key.EventID),
	)
}

// Shutdown stops accepting triggers, cancels the context handed to
// handlers, abandons retries that are still waiting, and waits for running
// attempts to return or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for key, t := range o.timers {
		if t.Stop() {
			o.abandon(key)
			o.wg.Done()
		}
		delete(o.timers, key)
	}
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
