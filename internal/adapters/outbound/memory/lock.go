// Package memory provides in-process implementations of the outbound ports.
//
// They are used for single-instance deployments and in tests. All types are
// safe for concurrent use and lose their state on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that ExecutionLock implements outbound.ExecutionLock
var _ outbound.ExecutionLock = (*ExecutionLock)(nil)

// ExecutionLock is a process-local single-flight lock with an expiry.
type ExecutionLock struct {
	mu      sync.Mutex
	held    bool
	token   uint64
	expires time.Time
	now     func() time.Time
}

// NewExecutionLock creates an unlocked ExecutionLock.
func NewExecutionLock() *ExecutionLock {
	return &ExecutionLock{now: time.Now}
}

// TryAcquire takes the lock or returns entity.ErrLockHeld.
// A ttl of zero means the lock never expires on its own.
func (l *ExecutionLock) TryAcquire(_ context.Context, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.heldLocked() {
		return nil, entity.ErrLockHeld
	}
	l.held = true
	l.token++
	token := l.token
	l.expires = time.Time{}
	if ttl > 0 {
		l.expires = l.now().Add(ttl)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// An expired lock may have been re-acquired by someone else.
			if l.token == token {
				l.held = false
			}
		})
	}, nil
}

// Held reports whether the lock is taken and not expired.
func (l *ExecutionLock) Held(_ context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldLocked()
}

func (l *ExecutionLock) heldLocked() bool {
	if !l.held {
		return false
	}
	if !l.expires.IsZero() && !l.now().Before(l.expires) {
		l.held = false
		return false
	}
	return true
}
