package liquidator

import (
	"sync"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// CandidateRegistry is the deduplicated set of accounts worth evaluating.
// It only grows. The engine worker writes to it; status readers may read concurrently.
type CandidateRegistry struct {
	mu    sync.RWMutex
	set   map[entity.AccountID]struct{}
	order []entity.AccountID
}

// NewCandidateRegistry creates an empty registry.
func NewCandidateRegistry() *CandidateRegistry {
	return &CandidateRegistry{set: make(map[entity.AccountID]struct{})}
}

// Ingest adds the position holders of the given events and returns how many were new.
// Ingesting the same records twice leaves the registry unchanged.
func (r *CandidateRegistry) Ingest(records []entity.EventRecord) int {
	ids := make([]entity.AccountID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.Account)
	}
	return r.Add(ids...)
}

// Add inserts accounts directly and returns how many were new. Zero addresses are ignored.
func (r *CandidateRegistry) Add(ids ...entity.AccountID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, id := range ids {
		if id == (entity.AccountID{}) {
			continue
		}
		if _, ok := r.set[id]; ok {
			continue
		}
		r.set[id] = struct{}{}
		r.order = append(r.order, id)
		added++
	}
	return added
}

// Contains reports whether id is registered.
func (r *CandidateRegistry) Contains(id entity.AccountID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[id]
	return ok
}

// Len returns the number of registered accounts.
func (r *CandidateRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Accounts returns a copy of all accounts in insertion order.
func (r *CandidateRegistry) Accounts() []entity.AccountID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.AccountID, len(r.order))
	copy(out, r.order)
	return out
}
