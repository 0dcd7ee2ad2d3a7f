package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that ExecutionLock implements outbound.ExecutionLock
var _ outbound.ExecutionLock = (*ExecutionLock)(nil)

// releaseScript deletes the lock only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ExecutionLock is a single-holder lock shared by every liquidator instance
// pointed at the same Redis.
type ExecutionLock struct {
	client *Client
	logger *slog.Logger
}

// NewExecutionLock creates an ExecutionLock on client.
func NewExecutionLock(client *Client) (*ExecutionLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &ExecutionLock{
		client: client,
		logger: client.logger.With("component", "redis-lock"),
	}, nil
}

// TryAcquire sets the lock key if absent. The ttl guards against a holder
// that dies without releasing.
func (l *ExecutionLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, l.client.lockKey(), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire lock: %w", entity.ErrTransientNetwork, err)
	}
	if !ok {
		return nil, entity.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.client.cfg.WriteTimeout)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client.rdb, []string{l.client.lockKey()}, token).Err(); err != nil {
				l.logger.Warn("failed to release execution lock", "error", err)
			}
		})
	}, nil
}

// Held reports whether any instance holds the lock. A Redis error counts as held.
func (l *ExecutionLock) Held(ctx context.Context) bool {
	n, err := l.client.rdb.Exists(ctx, l.client.lockKey()).Result()
	if err != nil {
		l.logger.Warn("failed to check execution lock", "error", err)
		return true
	}
	return n > 0
}
