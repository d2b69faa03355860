package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds the instruments recorded by row-set operations.
type QueryMetrics struct {
	queryDuration metric.Float64Histogram
	queryCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
	rowsReturned  metric.Int64Histogram
	joinCount     metric.Int64Histogram
	lazyLoads     metric.Int64Counter
}

// InitQueryMetrics creates the query instruments on meter.
func InitQueryMetrics(meter metric.Meter) (*QueryMetrics, error) {
	queryDuration, err := meter.Float64Histogram(
		"relmap.query.duration",
		metric.WithDescription("Duration of row-set operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"relmap.queries",
		metric.WithDescription("Total number of row-set operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"relmap.query.errors",
		metric.WithDescription("Total number of failed row-set operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"relmap.rows.returned",
		metric.WithDescription("Number of rows read or affected by an operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	joinCount, err := meter.Int64Histogram(
		"relmap.query.joins",
		metric.WithDescription("Number of joins in a compiled query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create join histogram: %w", err)
	}

	lazyLoads, err := meter.Int64Counter(
		"relmap.lazy_loads",
		metric.WithDescription("Number of foreign keys resolved by a follow-up primary key fetch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lazy load counter: %w", err)
	}

	return &QueryMetrics{
		queryDuration: queryDuration,
		queryCounter:  queryCounter,
		errorCounter:  errorCounter,
		rowsReturned:  rowsReturned,
		joinCount:     joinCount,
		lazyLoads:     lazyLoads,
	}, nil
}

// RecordQuery records one terminal operation. A nil receiver is a no-op.
func (m *QueryMetrics) RecordQuery(ctx context.Context, operation, entity string, duration time.Duration, rows int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("entity", entity),
		attribute.Bool("has_errors", err != nil),
	)
	m.queryDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.queryCounter.Add(ctx, 1, attrs)
	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("entity", entity),
		))
		return
	}
	m.rowsReturned.Record(ctx, rows, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordJoins records the join count of a compiled query.
func (m *QueryMetrics) RecordJoins(ctx context.Context, entity string, joins int) {
	if m == nil {
		return
	}
	m.joinCount.Record(ctx, int64(joins), metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// RecordLazyLoad counts a reference resolved after the fact.
func (m *QueryMetrics) RecordLazyLoad(ctx context.Context, entity string) {
	if m == nil {
		return
	}
	m.lazyLoads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
	))
}
