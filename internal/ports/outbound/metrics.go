package outbound

import (
	"context"
	"time"
)

// MetricsRecorder records engine metrics. All methods must be safe for concurrent use.
type MetricsRecorder interface {
	// RecordCycle records a completed block cycle with its duration.
	RecordCycle(ctx context.Context, duration time.Duration, status string)

	// RecordSkippedBlock counts a block dropped because a cycle was still running.
	RecordSkippedBlock(ctx context.Context)

	// RecordEvaluation counts account reads by result ("ok", "miss", "below_floor").
	RecordEvaluation(ctx context.Context, result string, n int)

	// RecordSkippedRange counts a backfill sub-range that failed and was skipped.
	RecordSkippedRange(ctx context.Context, kind string)

	// RecordAttempt counts a liquidation attempt by outcome.
	RecordAttempt(ctx context.Context, outcome string)

	// RecordCandidates sets the current registry size.
	RecordCandidates(ctx context.Context, n int)
}
