package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the metrics recorded by generated CRUD routes.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	paginationTotal metric.Int64Histogram
	resultsCount    metric.Int64Histogram
	softFailures    metric.Int64Counter
}

// InitEngineMetrics initializes the per-route engine metrics
func InitEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("pg-engine")

	requestDuration, err := meter.Float64Histogram(
		"engine.request.duration",
		metric.WithDescription("Duration of generated route requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"engine.requests.total",
		metric.WithDescription("Total number of generated route requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"engine.errors.total",
		metric.WithDescription("Total number of generated route requests answered with an error status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"engine.requests.active",
		metric.WithDescription("Number of in-flight generated route requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	paginationTotal, err := meter.Int64Histogram(
		"engine.pagination.total",
		metric.WithDescription("Row count reported by the pagination count query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pagination total histogram: %w", err)
	}

	resultsCount, err := meter.Int64Histogram(
		"engine.results.count",
		metric.WithDescription("Number of rows returned by a generated route"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}

	softFailures, err := meter.Int64Counter(
		"engine.soft_failures.total",
		metric.WithDescription("Failures replaced by a default value instead of being surfaced"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create soft failure counter: %w", err)
	}

	return &EngineMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		paginationTotal: paginationTotal,
		resultsCount:    resultsCount,
		softFailures:    softFailures,
	}, nil
}

// RecordRequest records one generated route request with its duration and status
func (m *EngineMetrics) RecordRequest(ctx context.Context, table, verb string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("table", table),
		attribute.String("verb", verb),
		attribute.Int("status", status),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if status >= 400 {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("table", table),
			attribute.String("verb", verb),
		))
	}
}

// RecordPagination records the total reported by a count query
func (m *EngineMetrics) RecordPagination(ctx context.Context, table string, total int64) {
	if m == nil {
		return
	}
	m.paginationTotal.Record(ctx, total, metric.WithAttributes(attribute.String("table", table)))
}

// RecordResultsCount records the number of rows a route returned
func (m *EngineMetrics) RecordResultsCount(ctx context.Context, table, verb string, count int64) {
	if m == nil {
		return
	}
	m.resultsCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("verb", verb),
	))
}

// RecordSoftFailure counts a failure that was defaulted at the call site.
// Stage names the step: filter, formatter, pagination, introspection, relations.
func (m *EngineMetrics) RecordSoftFailure(ctx context.Context, stage, table string) {
	if m == nil {
		return
	}
	m.softFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("table", table),
	))
}

// IncrementActiveRequests increments the active requests counter
func (m *EngineMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *EngineMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the EngineMetrics instance
func InitMetrics(logger *slog.Logger) (*EngineMetrics, error) {
	metrics, err := InitEngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}

	logger.Info("custom engine metrics initialized")
	return metrics, nil
}

type engineMetricsContextKey struct{}

// ContextWithEngineMetrics stores engine metrics in the provided context.
func ContextWithEngineMetrics(ctx context.Context, metrics *EngineMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, engineMetricsContextKey{}, metrics)
}

// EngineMetricsFromContext retrieves engine metrics from the context.
func EngineMetricsFromContext(ctx context.Context) *EngineMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(engineMetricsContextKey{}).(*EngineMetrics)
	return metrics
}
