package memory

import (
	"context"
	"sync"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that StatusSink implements outbound.StatusSink
var _ outbound.StatusSink = (*StatusSink)(nil)

// StatusSink keeps the latest snapshot and a bounded history of published ones.
type StatusSink struct {
	mu       sync.RWMutex
	latest   entity.Snapshot
	history  []entity.Snapshot
	capacity int
}

// NewStatusSink creates a StatusSink keeping at most capacity snapshots of history.
func NewStatusSink(capacity int) *StatusSink {
	if capacity <= 0 {
		capacity = 100
	}
	return &StatusSink{capacity: capacity}
}

// Publish stores the snapshot.
func (s *StatusSink) Publish(_ context.Context, snapshot entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snapshot
	s.history = append(s.history, snapshot)
	if len(s.history) > s.capacity {
		s.history = s.history[len(s.history)-s.capacity:]
	}
	return nil
}

// Latest returns the most recent snapshot.
func (s *StatusSink) Latest() entity.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Statuses returns the status of every stored snapshot, oldest first.
func (s *StatusSink) Statuses() []entity.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Status, len(s.history))
	for i, snap := range s.history {
		out[i] = snap.Status
	}
	return out
}
