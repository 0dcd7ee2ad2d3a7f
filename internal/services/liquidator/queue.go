package liquidator

import (
	"sort"
	"sync"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// OpportunityQueue orders known-risky accounts by ascending solvency margin.
//
// Healthy accounts are never added. An account already queued stays until it
// has been observed healthy evictAfter times in a row; one unhealthy reading
// resets its streak.
type OpportunityQueue struct {
	mu         sync.RWMutex
	entries    []entity.AccountHealth
	streaks    map[entity.AccountID]int
	evictAfter int
}

// NewOpportunityQueue creates an empty queue.
func NewOpportunityQueue(evictAfter int) *OpportunityQueue {
	if evictAfter <= 0 {
		evictAfter = ConfigDefaults().EvictAfter
	}
	return &OpportunityQueue{
		streaks:    make(map[entity.AccountID]int),
		evictAfter: evictAfter,
	}
}

// Update applies a batch of readings, replacing existing entries by id, and
// returns the number of accounts evicted.
func (q *OpportunityQueue) Update(healths []entity.AccountHealth) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	for _, h := range healths {
		idx := q.indexOf(h.ID)

		if h.Eligible() {
			delete(q.streaks, h.ID)
			if idx >= 0 {
				q.entries[idx] = h
			} else {
				q.entries = append(q.entries, h)
			}
			continue
		}

		if idx < 0 {
			continue
		}
		q.streaks[h.ID]++
		if q.streaks[h.ID] >= q.evictAfter {
			q.removeAt(idx)
			delete(q.streaks, h.ID)
			evicted++
			continue
		}
		q.entries[idx] = h
	}

	sort.SliceStable(q.entries, func(i, j int) bool {
		a, b := q.entries[i], q.entries[j]
		if c := a.SolvencyMargin.Cmp(b.SolvencyMargin); c != 0 {
			return c < 0
		}
		return a.DebtValue.GreaterThan(b.DebtValue)
	})
	return evicted
}

// Drop removes ids immediately, without waiting for an eviction streak.
// It returns the number of accounts that were queued.
func (q *OpportunityQueue) Drop(ids []entity.AccountID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := 0
	for _, id := range ids {
		delete(q.streaks, id)
		if idx := q.indexOf(id); idx >= 0 {
			q.removeAt(idx)
			dropped++
		}
	}
	return dropped
}

// PeekBest returns the most at-risk entry without removing it.
func (q *OpportunityQueue) PeekBest() (entity.AccountHealth, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.entries) == 0 {
		return entity.AccountHealth{}, false
	}
	return q.entries[0], true
}

// Remove drops id from the queue. It reports whether the id was present.
func (q *OpportunityQueue) Remove(id entity.AccountID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.streaks, id)
	idx := q.indexOf(id)
	if idx < 0 {
		return false
	}
	q.removeAt(idx)
	return true
}

// Top returns a copy of the first n entries.
func (q *OpportunityQueue) Top(n int) []entity.AccountHealth {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]entity.AccountHealth, n)
	copy(out, q.entries[:n])
	return out
}

// Len returns the number of queued accounts.
func (q *OpportunityQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

func (q *OpportunityQueue) indexOf(id entity.AccountID) int {
	for i := range q.entries {
		if q.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *OpportunityQueue) removeAt(idx int) {
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
}
