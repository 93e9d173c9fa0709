package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/glasssync/gallery"

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// StartDeviceSpan starts a span for calls against the glasses' media server
func StartDeviceSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("device.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("peer.service", "glasses-media-server"),
			attribute.String("device.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds sync-round metrics instruments.
type SyncMetrics struct {
	roundDuration   metric.Float64Histogram
	filesDownloaded metric.Int64Counter
	filesFailed     metric.Int64Counter
	bytesDownloaded metric.Int64Counter
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	roundDuration, err := meter.Float64Histogram(
		"sync.round.duration",
		metric.WithDescription("Duration of one gallery sync round in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	filesDownloaded, err := meter.Int64Counter(
		"sync.files.downloaded",
		metric.WithDescription("Total files downloaded from the glasses"),
		metric.WithUnit("{files}"),
	)
	if err != nil {
		return nil, err
	}

	filesFailed, err := meter.Int64Counter(
		"sync.files.failed",
		metric.WithDescription("Total files that failed to download"),
		metric.WithUnit("{files}"),
	)
	if err != nil {
		return nil, err
	}

	bytesDownloaded, err := meter.Int64Counter(
		"sync.bytes.downloaded",
		metric.WithDescription("Total bytes downloaded from the glasses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		roundDuration:   roundDuration,
		filesDownloaded: filesDownloaded,
		filesFailed:     filesFailed,
		bytesDownloaded: bytesDownloaded,
	}, nil
}

// RecordRound records the outcome of one sync round.
func (m *SyncMetrics) RecordRound(ctx context.Context, durationMs float64, downloaded, failed int, bytes int64) {
	if m == nil {
		return
	}
	m.roundDuration.Record(ctx, durationMs)
	m.filesDownloaded.Add(ctx, int64(downloaded))
	m.filesFailed.Add(ctx, int64(failed))
	m.bytesDownloaded.Add(ctx, bytes)
}
