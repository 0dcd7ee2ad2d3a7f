package outbound

import (
	"context"
	"time"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// ExecutionLock guarantees at most one in-flight liquidation.
type ExecutionLock interface {
	// TryAcquire takes the lock without waiting. It returns entity.ErrLockHeld if
	// the lock is taken. The returned release func is safe to call more than once.
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(), err error)

	// Held reports whether the lock is currently taken.
	Held(ctx context.Context) bool
}

// StatusSink receives engine snapshots. Publishing must not block the engine for long.
type StatusSink interface {
	Publish(ctx context.Context, snapshot entity.Snapshot) error
}

// AttemptRepository stores the history of liquidation attempts.
type AttemptRepository interface {
	// SaveAttempt inserts or updates an attempt by ID.
	SaveAttempt(ctx context.Context, attempt *entity.LiquidationAttempt) error

	// RecentAttempts returns up to limit attempts, newest first.
	RecentAttempts(ctx context.Context, limit int) ([]entity.LiquidationAttempt, error)
}

// AttemptNotifier fans out finished attempts to downstream consumers.
type AttemptNotifier interface {
	Notify(ctx context.Context, attempt entity.LiquidationAttempt) error
}
