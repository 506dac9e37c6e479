package parse

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "pyrelate.parse"

// meter is bound once; instruments follow the first installed provider.
var meter = otel.Meter(instrumentationName)

var (
	extractLatency metric.Float64Histogram
	extractTotal   metric.Int64Counter
	extractErrors  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		extractLatency, err = meter.Float64Histogram(
			"pyrelate_extract_duration_seconds",
			metric.WithDescription("Duration of per-file fact extraction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractTotal, err = meter.Int64Counter(
			"pyrelate_extract_total",
			metric.WithDescription("Total number of files handed to the extractor"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractErrors, err = meter.Int64Counter(
			"pyrelate_extract_errors_total",
			metric.WithDescription("Files that yielded an empty fact record because of an error"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordExtractMetrics records one extraction. reason is empty on success.
func recordExtractMetrics(ctx context.Context, duration time.Duration, reason string) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", reason == ""))
	extractLatency.Record(ctx, duration.Seconds(), attrs)
	extractTotal.Add(ctx, 1, attrs)

	if reason != "" {
		extractErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// startExtractSpan creates a span for one file. The caller must end it.
// The tracer is looked up per call so a replaced global provider takes
// effect.
func startExtractSpan(ctx context.Context, filePath string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "Extractor.Extract",
		trace.WithAttributes(attribute.String("parse.file", filePath)),
	)
}

func setExtractSpanResult(span trace.Span, facts factCounts) {
	span.SetAttributes(
		attribute.Int("parse.import_count", facts.imports),
		attribute.Int("parse.defined_count", facts.defined),
		attribute.Int("parse.reexport_count", facts.reExports),
	)
}
