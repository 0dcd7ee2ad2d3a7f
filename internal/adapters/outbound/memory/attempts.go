package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that AttemptRepository implements outbound.AttemptRepository
var _ outbound.AttemptRepository = (*AttemptRepository)(nil)

// AttemptRepository stores liquidation attempts in memory.
type AttemptRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]int
	items []entity.LiquidationAttempt
}

// NewAttemptRepository creates an empty repository.
func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{byID: make(map[uuid.UUID]int)}
}

// SaveAttempt inserts or replaces the attempt by ID.
func (r *AttemptRepository) SaveAttempt(_ context.Context, attempt *entity.LiquidationAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.byID[attempt.ID]; ok {
		r.items[idx] = *attempt
		return nil
	}
	r.byID[attempt.ID] = len(r.items)
	r.items = append(r.items, *attempt)
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (r *AttemptRepository) RecentAttempts(_ context.Context, limit int) ([]entity.LiquidationAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.items) {
		limit = len(r.items)
	}
	out := make([]entity.LiquidationAttempt, 0, limit)
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.items[i])
	}
	return out, nil
}
