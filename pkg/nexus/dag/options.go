package dag

import (
	"log/slog"

	"github.com/randalmurphal/nexus/pkg/nexus/observability"
	"github.com/randalmurphal/nexus/pkg/nexus/retry"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager.
// Default: observability.NoopSpanManager{}
func WithSpanManager(s observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithBackoff sets the retry delay policy.
// Default: retry.DefaultBackoff (1s, 2s, 4s, ...)
//
// Example:
//
//	orch := dag.New(bus, dag.WithBackoff(retry.New(retry.WithBase(100*time.Millisecond))))
func WithBackoff(b retry.Backoff) Option {
	return func(o *Orchestrator) {
		o.backoff = b
	}
}
