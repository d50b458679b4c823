package dag_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/nexus/pkg/nexus/dag"
	"github.com/randalmurphal/nexus/pkg/nexus/event"
	"github.com/randalmurphal/nexus/pkg/nexus/eventlog"
	"github.com/randalmurphal/nexus/pkg/nexus/retry"
)

const waitFor = 2 * time.Second

// harness wires an orchestrator to a bus backed by an in-memory log and
// collects every task outcome.
type harness struct {
	log      *eventlog.MemoryLog
	bus      *event.Bus
	orch     *dag.Orchestrator
	outcomes chan event.Event
}

func newHarness(t *testing.T, opts ...dag.Option) *harness {
	t.Helper()

	log := eventlog.NewMemoryLog()
	bus := event.NewBus(log)
	h := &harness{
		log:      log,
		bus:      bus,
		outcomes: make(chan event.Event, 64),
	}
	bus.Subscribe("task.*.*", func(_ context.Context, evt event.Event) error {
		h.outcomes <- evt
		return nil
	})

	opts = append([]dag.Option{dag.WithBackoff(retry.New(retry.WithBase(10 * time.Millisecond)))}, opts...)
	h.orch = dag.New(bus, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) publish(t *testing.T, name string, payload any) event.Event {
	t.Helper()
	evt, err := h.bus.Publish(context.Background(), name, payload)
	require.NoError(t, err)
	return evt
}

func (h *harness) nextOutcome(t *testing.T) (event.Event, dag.TaskResult) {
	t.Helper()
	select {
	case evt := <-h.outcomes:
		res, err := dag.DecodeResult(evt.Payload)
		require.NoError(t, err)
		return evt, res
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for task outcome")
		return event.Event{}, dag.TaskResult{}
	}
}

func (h *harness) noOutcome(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case evt := <-h.outcomes:
		t.Fatalf("unexpected outcome %s", evt)
	case <-time.After(d):
	}
}

func singleTask(task dag.Task) dag.Definition {
	return dag.Definition{ID: "test", Tasks: []dag.Task{task}}
}

func TestOrchestrator_Success(t *testing.T) {
	h := newHarness(t)
	h.orch.RegisterHandler("double", func(_ context.Context, payload any) (any, error) {
		return payload.(int) * 2, nil
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "double", Handler: "double", Triggers: []string{"number.received"},
	})))

	trigger := h.publish(t, "number.received", 21)

	evt, res := h.nextOutcome(t)
	assert.Equal(t, "task.double.completed", evt.Name)
	assert.Equal(t, dag.TaskResult{
		TaskID:         "double",
		Status:         dag.StatusSuccess,
		Output:         42,
		TriggerEventID: trigger.ID,
	}, res)

	assert.Eventually(t, func() bool { return h.orch.Pending() == 0 }, waitFor, 5*time.Millisecond)
	h.noOutcome(t, 30*time.Millisecond)
}

func TestOrchestrator_RetriesThenFails(t *testing.T) {
	h := newHarness(t, dag.WithBackoff(retry.New(retry.WithBase(20*time.Millisecond))))

	var mu sync.Mutex
	var attempts []time.Time
	h.orch.RegisterHandler("flaky", func(context.Context, any) (any, error) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		mu.Unlock()
		return nil, errors.New("upstream unavailable")
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "fetch", Handler: "flaky", Triggers: []string{"fetch.requested"}, MaxRetries: 2,
	})))

	trigger := h.publish(t, "fetch.requested", nil)

	evt, res := h.nextOutcome(t)
	assert.Equal(t, "task.fetch.failed", evt.Name)
	assert.Equal(t, dag.StatusFailure, res.Status)
	assert.Equal(t, "upstream unavailable", res.Error)
	assert.Equal(t, trigger.ID, res.TriggerEventID)
	assert.Nil(t, res.Output)

	mu.Lock()
	got := append([]time.Time(nil), attempts...)
	mu.Unlock()
	require.Len(t, got, 3, "one attempt plus two retries")
	assert.GreaterOrEqual(t, got[1].Sub(got[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, got[2].Sub(got[1]), 40*time.Millisecond)

	h.noOutcome(t, 100*time.Millisecond)
	mu.Lock()
	assert.Len(t, attempts, 3, "no attempts after the failure event")
	mu.Unlock()
	assert.Equal(t, 0, h.orch.Pending())
}

func TestOrchestrator_SucceedsOnRetry(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	h.orch.RegisterHandler("eventually", func(context.Context, any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "job", Handler: "eventually", Triggers: []string{"job.start"}, MaxRetries: 5,
	})))

	h.publish(t, "job.start", nil)

	evt, res := h.nextOutcome(t)
	assert.Equal(t, "task.job.completed", evt.Name)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, int32(3), calls.Load())
	h.noOutcome(t, 50*time.Millisecond)
}

func TestOrchestrator_ZeroRetriesFailsImmediately(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	h.orch.RegisterHandler("fail", func(context.Context, any) (any, error) {
		calls.Add(1)
		return nil, errors.New("nope")
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "once", Handler: "fail", Triggers: []string{"go"},
	})))

	h.publish(t, "go", nil)

	evt, res := h.nextOutcome(t)
	assert.Equal(t, "task.once.failed", evt.Name)
	assert.Equal(t, "nope", res.Error)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOrchestrator_Rerun(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	release := make(chan struct{})
	h.orch.RegisterHandler("second-time", func(_ context.Context, payload any) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("cold cache")
		}
		<-release
		return payload, nil
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "warm", Handler: "second-time", Triggers: []string{"go"},
	})))

	trigger := h.publish(t, "go", "payload")
	evt, res := h.nextOutcome(t)
	require.Equal(t, "task.warm.failed", evt.Name)
	require.Zero(t, h.orch.Pending())

	require.NoError(t, h.orch.Rerun("warm", trigger))
	assert.ErrorIs(t, h.orch.Rerun("warm", trigger), dag.ErrExecutionActive)
	close(release)

	evt, res = h.nextOutcome(t)
	assert.Equal(t, "task.warm.completed", evt.Name)
	assert.Equal(t, trigger.ID, res.TriggerEventID)
	assert.Equal(t, "payload", res.Output)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOrchestrator_RerunErrors(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{ID: "t", Handler: "missing", Triggers: []string{"go"}})))
	trigger := event.Event{ID: "e-1", Name: "go"}

	assert.ErrorIs(t, h.orch.Rerun("nope", trigger), dag.ErrTaskNotFound)
	assert.ErrorIs(t, h.orch.Rerun("t", trigger), dag.ErrHandlerNotFound)

	h.orch.RegisterHandler("missing", func(context.Context, any) (any, error) { return nil, nil })
	require.NoError(t, h.orch.Shutdown(context.Background()))
	assert.ErrorIs(t, h.orch.Rerun("t", trigger), dag.ErrShutdown)
}

func TestOrchestrator_PanicIsFailure(t *testing.T) {
	h := newHarness(t)
	h.orch.RegisterHandler("panics", func(context.Context, any) (any, error) {
		panic("boom")
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "p", Handler: "panics", Triggers: []string{"go"},
	})))

	h.publish(t, "go", nil)

	evt, res := h.nextOutcome(t)
	assert.Equal(t, "task.p.failed", evt.Name)
	assert.Equal(t, "panic: boom", res.Error)
}

func TestOrchestrator_HandlerNotFound(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "orphan", Handler: "missing", Triggers: []string{"go"},
	})))

	h.publish(t, "go", nil)

	h.noOutcome(t, 50*time.Millisecond)
	assert.Equal(t, 0, h.orch.Pending())
	assert.Len(t, h.log.Events(), 1, "only the trigger is logged")
}

func TestOrchestrator_HandlerRegisteredAfterLoad(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "late", Handler: "late", Triggers: []string{"go"},
	})))
	h.orch.RegisterHandler("late", func(context.Context, any) (any, error) { return "bound", nil })

	h.publish(t, "go", nil)

	_, res := h.nextOutcome(t)
	assert.Equal(t, "bound", res.Output)
	assert.Equal(t, []string{"late"}, h.orch.Handlers())
}

func TestOrchestrator_DuplicateTriggerRunsOnce(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	release := make(chan struct{})
	h.orch.RegisterHandler("slow", func(context.Context, any) (any, error) {
		calls.Add(1)
		<-release
		return nil, nil
	})
	// Both patterns match job.start, so one event delivers the trigger twice.
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "job", Handler: "slow", Triggers: []string{"job.start", "job.*"},
	})))

	h.publish(t, "job.start", nil)
	require.Equal(t, 1, h.orch.Pending())
	close(release)

	evt, _ := h.nextOutcome(t)
	assert.Equal(t, "task.job.completed", evt.Name)
	h.noOutcome(t, 50*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOrchestrator_DistinctEventsRunIndependently(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	h.orch.RegisterHandler("count", func(context.Context, any) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "c", Handler: "count", Triggers: []string{"tick"},
	})))

	first := h.publish(t, "tick", nil)
	second := h.publish(t, "tick", nil)

	_, r1 := h.nextOutcome(t)
	_, r2 := h.nextOutcome(t)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{r1.TriggerEventID, r2.TriggerEventID})
	assert.Equal(t, int32(2), calls.Load())
}

func TestOrchestrator_Chain(t *testing.T) {
	h := newHarness(t)

	h.orch.RegisterHandler("research", func(_ context.Context, payload any) (any, error) {
		return "notes on " + payload.(string), nil
	})
	h.orch.RegisterHandler("summarize", func(_ context.Context, payload any) (any, error) {
		res, err := dag.DecodeResult(payload)
		if err != nil {
			return nil, err
		}
		return "summary of " + res.Output.(string), nil
	})
	h.orch.RegisterHandler("save", func(_ context.Context, payload any) (any, error) {
		res, err := dag.DecodeResult(payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"saved": res.Output}, nil
	})

	require.NoError(t, h.orch.LoadDAG(dag.Definition{
		ID: "pipeline",
		Tasks: []dag.Task{
			{ID: "research", Handler: "research", Triggers: []string{"research.requested"}, MaxRetries: 2},
			{ID: "summarize", Handler: "summarize", Triggers: []string{"task.research.completed"}},
			{ID: "save", Handler: "save", Triggers: []string{"task.summarize.completed"}},
		},
	}))

	h.publish(t, "research.requested", "go")

	var last dag.TaskResult
	for range 3 {
		_, last = h.nextOutcome(t)
	}
	assert.Equal(t, "save", last.TaskID)
	assert.Equal(t, map[string]any{"saved": "summary of notes on go"}, last.Output)

	names := make([]string, 0, 4)
	for _, evt := range h.log.Events() {
		names = append(names, evt.Name)
	}
	assert.Equal(t, []string{
		"research.requested",
		"task.research.completed",
		"task.summarize.completed",
		"task.save.completed",
	}, names)

	assert.Eventually(t, func() bool { return h.orch.Pending() == 0 }, waitFor, 5*time.Millisecond)
}

func TestOrchestrator_LoadDAGInvalid(t *testing.T) {
	h := newHarness(t)

	subs := h.bus.Subscribers()

	err := h.orch.LoadDAG(singleTask(dag.Task{ID: "x", Triggers: []string{"go"}}))
	assert.ErrorIs(t, err, dag.ErrInvalidDefinition)
	assert.Equal(t, subs, h.bus.Subscribers(), "invalid definitions subscribe nothing")
	assert.Empty(t, h.orch.Definitions())

	require.NoError(t, h.orch.LoadDAG(dag.Definition{ID: "empty"}))
	require.Len(t, h.orch.Definitions(), 1)
	assert.Equal(t, "empty", h.orch.Definitions()[0].ID)
}

func TestOrchestrator_LoadDAGTaskWithoutTriggers(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, dag.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	subs := h.bus.Subscribers()
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{ID: "idle", Handler: "h"})))

	assert.Equal(t, subs, h.bus.Subscribers())
	assert.Len(t, h.orch.Definitions(), 1)
	assert.Contains(t, buf.String(), "task has no triggers")
	assert.Contains(t, buf.String(), "task_id=idle")
}

func TestOrchestrator_OutcomeLogFailure(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	h.orch.RegisterHandler("ok", func(context.Context, any) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{ID: "a", Handler: "ok", Triggers: []string{"go"}})))

	h.publish(t, "go", nil)
	h.log.FailWith(errors.New("disk full"))
	close(release)

	assert.Eventually(t, func() bool { return h.orch.Pending() == 0 }, waitFor, 5*time.Millisecond)
	h.noOutcome(t, 30*time.Millisecond)
}

func TestOrchestrator_ShutdownAbandonsRetries(t *testing.T) {
	h := newHarness(t, dag.WithBackoff(retry.New(retry.WithBase(time.Hour))))

	var calls atomic.Int32
	h.orch.RegisterHandler("fail", func(context.Context, any) (any, error) {
		calls.Add(1)
		return nil, errors.New("fail")
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{
		ID: "r", Handler: "fail", Triggers: []string{"go"}, MaxRetries: 3,
	})))

	h.publish(t, "go", nil)
	require.Eventually(t, func() bool {
		execs := h.orch.Executions()
		return len(execs) == 1 && execs[0].State == dag.StateBackoff
	}, waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	assert.Equal(t, 0, h.orch.Pending())
	assert.Equal(t, int32(1), calls.Load())

	h.publish(t, "go", nil)
	h.noOutcome(t, 30*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "triggers after shutdown are dropped")
}

func TestOrchestrator_ShutdownCancelsHandlers(t *testing.T) {
	h := newHarness(t)

	running := make(chan struct{})
	h.orch.RegisterHandler("wait", func(ctx context.Context, _ any) (any, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{ID: "w", Handler: "wait", Triggers: []string{"go"}})))

	h.publish(t, "go", nil)
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	evt, res := h.nextOutcome(t)
	assert.Equal(t, "task.w.failed", evt.Name)
	assert.Equal(t, context.Canceled.Error(), res.Error)
}

func TestOrchestrator_OutcomeLoggedDuringShutdown(t *testing.T) {
	idx, err := eventlog.NewSQLiteIndex(t.TempDir() + "/events.db")
	require.NoError(t, err)
	defer idx.Close()

	bus := event.NewBus(idx)
	orch := dag.New(bus)

	running := make(chan struct{})
	orch.RegisterHandler("drain", func(ctx context.Context, _ any) (any, error) {
		close(running)
		<-ctx.Done()
		return "drained", nil
	})
	require.NoError(t, orch.LoadDAG(singleTask(dag.Task{ID: "d", Handler: "drain", Triggers: []string{"go"}})))

	_, err = bus.Publish(context.Background(), "go", nil)
	require.NoError(t, err)
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, orch.Shutdown(ctx))

	records, err := idx.List(context.Background(), eventlog.ListOptions{Pattern: "task.d.*"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "task.d.completed", records[0].Event.Name)
	assert.Zero(t, orch.Pending())
}

func TestOrchestrator_ShutdownTimeout(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	running := make(chan struct{})
	h.orch.RegisterHandler("stuck", func(context.Context, any) (any, error) {
		close(running)
		<-release
		return nil, nil
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{ID: "s", Handler: "stuck", Triggers: []string{"go"}})))

	h.publish(t, "go", nil)
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.orch.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	h.nextOutcome(t)
}

func TestOrchestrator_PublishFromHandler(t *testing.T) {
	h := newHarness(t)

	h.orch.RegisterHandler("emit", func(ctx context.Context, _ any) (any, error) {
		_, err := h.bus.Publish(ctx, "side.effect", "x")
		return nil, err
	})
	require.NoError(t, h.orch.LoadDAG(singleTask(dag.Task{ID: "e", Handler: "emit", Triggers: []string{"go"}})))

	h.publish(t, "go", nil)
	evt, _ := h.nextOutcome(t)
	assert.Equal(t, "task.e.completed", evt.Name)
	assert.Len(t, h.log.Named("side.effect"), 1)
}
