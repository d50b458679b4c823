// Package observability provides structured logging, metrics, and tracing
// for the nexus event bus and DAG orchestrator.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// NewLogger builds a slog logger writing to w.
// Format is "json" or "text"; level is one of debug, info, warn, error.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// EnrichLogger adds execution context to a logger.
// Returns a new logger with task_id, event_id, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "summarize", evt.ID, 1)
//	enriched.Info("doing work") // includes task_id, event_id, attempt
func EnrichLogger(logger *slog.Logger, taskID, eventID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("task_id", taskID),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
	)
}

// LogPublishError logs an event that could not be appended to the log.
func LogPublishError(logger *slog.Logger, name string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event publish failed",
		slog.String("event", name),
		slog.String("error", err.Error()),
	)
}

// LogSubscriberError logs a subscriber that failed or panicked during dispatch.
func LogSubscriberError(logger *slog.Logger, pattern, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("subscriber failed",
		slog.String("pattern", pattern),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogDAGLoaded logs a loaded DAG definition.
func LogDAGLoaded(logger *slog.Logger, dagID string, tasks, subscriptions int) {
	if logger == nil {
		return
	}
	logger.Info("dag loaded",
		slog.String("dag_id", dagID),
		slog.Int("tasks", tasks),
		slog.Int("subscriptions", subscriptions),
	)
}

// LogTaskStart logs the start of a task attempt.
func LogTaskStart(logger *slog.Logger, trigger string) {
	if logger == nil {
		return
	}
	logger.Debug("task starting",
		slog.String("trigger", trigger),
	)
}

// LogTaskComplete logs a successful task attempt.
func LogTaskComplete(logger *slog.Logger, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("task completed",
		slog.Float64("duration_ms", durationMs),
	)
}

// LogTaskRetry logs a failed attempt that will be retried after delay.
func LogTaskRetry(logger *slog.Logger, err error, delay time.Duration, retry, maxRetries int) {
	if logger == nil {
		return
	}
	logger.Warn("task failed, retrying",
		slog.String("error", err.Error()),
		slog.Duration("delay", delay),
		slog.Int("retry", retry),
		slog.Int("max_retries", maxRetries),
	)
}

// LogTaskFailed logs a task that exhausted its retries.
func LogTaskFailed(logger *slog.Logger, err error, attempts int) {
	if logger == nil {
		return
	}
	logger.Error("task failed",
		slog.String("error", err.Error()),
		slog.Int("attempts", attempts),
	)
}

// LogHandlerNotFound logs a trigger for a task whose handler is not registered.
func LogHandlerNotFound(logger *slog.Logger, taskID, handler, eventID string) {
	if logger == nil {
		return
	}
	logger.Error("no handler registered for task",
		slog.String("task_id", taskID),
		slog.String("handler", handler),
		slog.String("event_id", eventID),
	)
}

// LogTriggerDropped logs a trigger ignored because its execution is already active.
func LogTriggerDropped(logger *slog.Logger, taskID, eventID string) {
	if logger == nil {
		return
	}
	logger.Debug("trigger dropped, execution active",
		slog.String("task_id", taskID),
		slog.String("event_id", eventID),
	)
}

// LogOutcomeError logs an outcome event that could not be published.
func LogOutcomeError(logger *slog.Logger, name string, err error) {
	if logger == nil {
		return
	}
	logger.Error("outcome event not published",
		slog.String("event", name),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
