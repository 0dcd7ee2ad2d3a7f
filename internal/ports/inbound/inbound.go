// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// Controller is the operator control surface of the liquidation engine.
type Controller interface {
	// Start subscribes to new blocks and runs the startup backfill.
	// Calling Start on a running engine is a no-op.
	Start(ctx context.Context) error

	// Stop unsubscribes and waits for any in-flight transaction to finish.
	// Calling Stop on a stopped engine is a no-op.
	Stop() error

	// SetGasLimit changes the gas limit used for subsequent submissions.
	SetGasLimit(limit uint64) error

	// Snapshot returns a read-only copy of the current engine state.
	Snapshot() entity.Snapshot
}

// HealthChecker defines the interface for services that can report readiness and liveness.
//
// Implementations:
//   - liquidator.Engine: ready after first block processed, healthy if blocks processed recently
type HealthChecker interface {
	// IsReady returns true once at least one block has been processed.
	IsReady() bool

	// IsHealthy returns true while blocks keep arriving within the health timeout.
	IsHealthy() bool
}
