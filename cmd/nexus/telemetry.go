package main

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/nexus/pkg/nexus/config"
	"github.com/randalmurphal/nexus/pkg/nexus/observability"
)

// telemetry owns the OpenTelemetry SDK providers installed for one command.
// Metrics are collected on demand and logged when the command ends; spans
// are logged at debug level as they finish.
type telemetry struct {
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	logger *slog.Logger
	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider
	tp     *sdktrace.TracerProvider
}

func setupTelemetry(cfg config.Telemetry, logger *slog.Logger) *telemetry {
	t := &telemetry{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		logger:  logger,
	}

	if cfg.Metrics {
		t.reader = sdkmetric.NewManualReader()
		t.mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(t.reader))
		otel.SetMeterProvider(t.mp)
		t.metrics = observability.NewMetricsRecorder()
	}

	if cfg.Tracing {
		t.tp = sdktrace.NewTracerProvider(sdktrace.WithSyncer(&logExporter{logger: logger}))
		otel.SetTracerProvider(t.tp)
		t.spans = observability.NewSpanManager()
	}
	return t
}

// shutdown logs collected metrics and flushes both providers.
func (t *telemetry) shutdown(ctx context.Context) error {
	var errs []error

	if t.reader != nil {
		var rm metricdata.ResourceMetrics
		if err := t.reader.Collect(ctx, &rm); err != nil {
			errs = append(errs, err)
		} else {
			logMetrics(t.logger, &rm)
		}
	}
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// logMetrics writes one record per instrument with its total.
func logMetrics(logger *slog.Logger, rm *metricdata.ResourceMetrics) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				logger.Info("metric", slog.String("name", m.Name), slog.Int64("total", total))
			case metricdata.Histogram[int64]:
				var count uint64
				var sum int64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				logger.Info("metric", slog.String("name", m.Name), slog.Uint64("count", count), slog.Int64("sum", sum))
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				logger.Info("metric", slog.String("name", m.Name), slog.Uint64("count", count), slog.Float64("sum", sum))
			}
		}
	}
}

// logExporter is a span exporter that writes finished spans to a logger.
type logExporter struct {
	logger *slog.Logger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []any{
			slog.String("span", s.Name()),
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.Float64("duration_ms", float64(s.EndTime().Sub(s.StartTime()).Microseconds())/1000),
			slog.String("status", s.Status().Code.String()),
		}
		if s.Parent().IsValid() {
			attrs = append(attrs, slog.String("parent_span_id", s.Parent().SpanID().String()))
		}
		e.logger.Debug("span finished", attrs...)
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error {
	return nil
}
