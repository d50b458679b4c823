package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/nexus/pkg/nexus/agent"
	"github.com/randalmurphal/nexus/pkg/nexus/config"
	"github.com/randalmurphal/nexus/pkg/nexus/dag"
	"github.com/randalmurphal/nexus/pkg/nexus/deadletter"
	"github.com/randalmurphal/nexus/pkg/nexus/event"
	"github.com/randalmurphal/nexus/pkg/nexus/eventlog"
)

// engine is a bus and orchestrator wired to the configured event log.
type engine struct {
	logger    *slog.Logger
	file      *eventlog.FileLog
	index     *eventlog.SQLiteIndex
	bus       *event.Bus
	orch      *dag.Orchestrator
	agents    *agent.Registry
	dead      *deadletter.Queue
	store     *memoryStore
	telemetry *telemetry
}

// openEngine opens the event log (and index, if configured), then builds the
// bus, orchestrator, agent registry and dead letter queue on top of it.
func openEngine(cfg config.Config, logger *slog.Logger) (*engine, error) {
	file, err := eventlog.OpenFile(cfg.EventLog.Path, eventlog.WithSync(cfg.EventLog.Sync))
	if err != nil {
		return nil, err
	}

	e := &engine{logger: logger, file: file}
	var log event.Log = file

	if cfg.EventLog.Index != "" {
		idx, err := eventlog.NewSQLiteIndex(cfg.EventLog.Index)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		e.index = idx
		log = eventlog.Multi(file, idx).WithLogger(logger)
	}

	e.telemetry = setupTelemetry(cfg.Telemetry, logger)
	e.dead = deadletter.New(deadletter.Config{
		MaxSize:   cfg.DeadLetter.MaxSize,
		Threshold: cfg.DeadLetter.Threshold,
		Window:    cfg.DeadLetter.Window,
	}, logger)

	e.bus = event.NewBus(log,
		event.WithLogger(logger),
		event.WithMetrics(e.telemetry.metrics),
		event.WithSpanManager(e.telemetry.spans),
		event.OnHandlerError(e.dead.RecordSubscriberError),
	)
	e.dead.Watch(e.bus)
	e.orch = dag.New(e.bus,
		dag.WithLogger(logger),
		dag.WithMetrics(e.telemetry.metrics),
		dag.WithSpanManager(e.telemetry.spans),
		dag.WithBackoff(cfg.Retry.Backoff()),
	)
	e.agents = agent.NewRegistry(e.bus, logger)
	e.store = registerBuiltins(e.orch)
	return e, nil
}

// loadDAGs reads and loads each definition file.
func (e *engine) loadDAGs(paths []string) error {
	for _, path := range paths {
		def, err := dag.LoadFile(path)
		if err != nil {
			return wrapError(ExitConfigError, "load "+path, err)
		}
		if err := e.orch.LoadDAG(def); err != nil {
			return wrapError(ExitConfigError, "load "+path, err)
		}
	}
	return nil
}

// waitIdle blocks until no execution is live. Downstream tasks claim their
// execution before the upstream entry is released, so an idle orchestrator
// means the whole cascade has settled.
func (e *engine) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for e.orch.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// close shuts the orchestrator down and releases the log and telemetry.
func (e *engine) close(ctx context.Context) error {
	var errs []error
	if err := e.orch.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown orchestrator: %w", err))
	}
	if err := e.telemetry.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if e.index != nil {
		errs = append(errs, e.index.Close())
	}
	errs = append(errs, e.file.Close())
	return errors.Join(errs...)
}
