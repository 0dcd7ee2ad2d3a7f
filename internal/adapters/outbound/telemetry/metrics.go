package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements the MetricsRecorder interface using OpenTelemetry.
type Metrics struct {
	cycleDuration  metric.Float64Histogram
	blocksSkipped  metric.Int64Counter
	evaluations    metric.Int64Counter
	rangesSkipped  metric.Int64Counter
	attempts       metric.Int64Counter
	candidateGauge metric.Int64Gauge
}

// NewMetrics creates a recorder on the global meter provider.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewMetricsWithProvider creates a recorder on the given meter provider.
func NewMetricsWithProvider(provider metric.MeterProvider, meterName string) (*Metrics, error) {
	meter := provider.Meter(meterName)

	cycle, err := meter.Float64Histogram(
		"liquidator_cycle_duration_seconds",
		metric.WithDescription("Time taken to evaluate a block and run the execution step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create liquidator_cycle_duration_seconds histogram: %w", err)
	}

	skipped, err := meter.Int64Counter(
		"liquidator_blocks_skipped_total",
		metric.WithDescription("Blocks dropped because a cycle was still running"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create liquidator_blocks_skipped_total counter: %w", err)
	}

	evaluations, err := meter.Int64Counter(
		"liquidator_evaluations_total",
		metric.WithDescription("Account health reads by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create liquidator_evaluations_total counter: %w", err)
	}

	ranges, err := meter.Int64Counter(
		"liquidator_ranges_skipped_total",
		metric.WithDescription("Event log sub-ranges that failed and were skipped"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create liquidator_ranges_skipped_total counter: %w", err)
	}

	attempts, err := meter.Int64Counter(
		"liquidator_attempts_total",
		metric.WithDescription("Liquidation attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create liquidator_attempts_total counter: %w", err)
	}

	candidates, err := meter.Int64Gauge(
		"liquidator_candidates",
		metric.WithDescription("Accounts currently tracked as candidates"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create liquidator_candidates gauge: %w", err)
	}

	return &Metrics{
		cycleDuration:  cycle,
		blocksSkipped:  skipped,
		evaluations:    evaluations,
		rangesSkipped:  ranges,
		attempts:       attempts,
		candidateGauge: candidates,
	}, nil
}

// RecordCycle records a completed block cycle with its duration.
func (m *Metrics) RecordCycle(ctx context.Context, duration time.Duration, status string) {
	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordSkippedBlock counts a block dropped because a cycle was still running.
func (m *Metrics) RecordSkippedBlock(ctx context.Context) {
	m.blocksSkipped.Add(ctx, 1)
}

// RecordEvaluation counts account reads by result.
func (m *Metrics) RecordEvaluation(ctx context.Context, result string, n int) {
	if n <= 0 {
		return
	}
	m.evaluations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("result", result)))
}

// RecordSkippedRange counts a failed backfill sub-range.
func (m *Metrics) RecordSkippedRange(ctx context.Context, kind string) {
	m.rangesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAttempt counts a liquidation attempt by outcome.
func (m *Metrics) RecordAttempt(ctx context.Context, outcome string) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCandidates sets the current registry size.
func (m *Metrics) RecordCandidates(ctx context.Context, n int) {
	m.candidateGauge.Record(ctx, int64(n))
}
