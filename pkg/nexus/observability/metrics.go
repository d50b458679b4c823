package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records bus and orchestrator metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a publish call and how many subscribers it reached.
	RecordPublish(ctx context.Context, name string, subscribers int, err error)

	// RecordSubscriberError records a subscriber that returned an error or panicked.
	RecordSubscriberError(ctx context.Context, pattern string)

	// RecordTaskAttempt records one handler invocation for a task.
	RecordTaskAttempt(ctx context.Context, taskID string, duration time.Duration, err error)

	// RecordTaskRetry records a scheduled retry and its backoff delay.
	RecordTaskRetry(ctx context.Context, taskID string, delay time.Duration)

	// RecordTaskOutcome records a terminal task outcome ("success" or "failure").
	RecordTaskOutcome(ctx context.Context, taskID, status string)

	// RecordTriggerDropped records a trigger that did not start an execution.
	RecordTriggerDropped(ctx context.Context, taskID, reason string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published     metric.Int64Counter
	fanout        metric.Int64Histogram
	publishErrors metric.Int64Counter
	subErrors     metric.Int64Counter
	attempts      metric.Int64Counter
	latency       metric.Float64Histogram
	retries       metric.Int64Counter
	backoff       metric.Float64Histogram
	outcomes      metric.Int64Counter
	dropped       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("nexus")
	m := &otelMetrics{}
	var err error

	if m.published, err = meter.Int64Counter("nexus.events.published",
		metric.WithDescription("Number of events appended to the log and dispatched"),
	); err != nil {
		return nil, err
	}

	if m.fanout, err = meter.Int64Histogram("nexus.events.fanout",
		metric.WithDescription("Number of subscribers an event was dispatched to"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter("nexus.events.publish_errors",
		metric.WithDescription("Number of publish calls that failed to append"),
	); err != nil {
		return nil, err
	}

	if m.subErrors, err = meter.Int64Counter("nexus.subscriber.errors",
		metric.WithDescription("Number of subscriber invocations that failed"),
	); err != nil {
		return nil, err
	}

	if m.attempts, err = meter.Int64Counter("nexus.task.attempts",
		metric.WithDescription("Number of task handler invocations"),
	); err != nil {
		return nil, err
	}

	if m.latency, err = meter.Float64Histogram("nexus.task.latency_ms",
		metric.WithDescription("Task handler latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter("nexus.task.retries",
		metric.WithDescription("Number of scheduled task retries"),
	); err != nil {
		return nil, err
	}

	if m.backoff, err = meter.Float64Histogram("nexus.task.backoff_ms",
		metric.WithDescription("Retry backoff delay in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.outcomes, err = meter.Int64Counter("nexus.task.outcomes",
		metric.WithDescription("Number of terminal task outcomes"),
	); err != nil {
		return nil, err
	}

	if m.dropped, err = meter.Int64Counter("nexus.trigger.dropped",
		metric.WithDescription("Number of triggers that did not start an execution"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records a publish call.
func (m *otelMetrics) RecordPublish(ctx context.Context, name string, subscribers int, err error) {
	attrs := metric.WithAttributes(attribute.String("event", name))
	if err != nil {
		m.publishErrors.Add(ctx, 1, attrs)
		return
	}
	m.published.Add(ctx, 1, attrs)
	m.fanout.Record(ctx, int64(subscribers), attrs)
}

// RecordSubscriberError records a failed subscriber invocation.
func (m *otelMetrics) RecordSubscriberError(ctx context.Context, pattern string) {
	m.subErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("pattern", pattern)))
}

// RecordTaskAttempt records a task handler invocation.
func (m *otelMetrics) RecordTaskAttempt(ctx context.Context, taskID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.Bool("success", err == nil),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordTaskRetry records a scheduled retry.
func (m *otelMetrics) RecordTaskRetry(ctx context.Context, taskID string, delay time.Duration) {
	attrs := metric.WithAttributes(attribute.String("task_id", taskID))
	m.retries.Add(ctx, 1, attrs)
	m.backoff.Record(ctx, float64(delay.Milliseconds()), attrs)
}

// RecordTaskOutcome records a terminal outcome.
func (m *otelMetrics) RecordTaskOutcome(ctx context.Context, taskID, status string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("status", status),
	))
}

// RecordTriggerDropped records a trigger that was not executed.
func (m *otelMetrics) RecordTriggerDropped(ctx context.Context, taskID, reason string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("reason", reason),
	))
}
