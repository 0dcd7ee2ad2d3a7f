package liquidator

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// Sampler picks which candidates are evaluated in a cycle.
type Sampler interface {
	// Sample returns at most k distinct accounts from ids. It must not modify ids.
	Sample(ids []entity.AccountID, k int) []entity.AccountID
}

// RandomSampler draws a uniform random sample. The same seed yields the same
// sequence of samples for the same inputs.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler creates a sampler. A zero seed is replaced with the current time.
func NewRandomSampler(seed uint64) *RandomSampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomSampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Sample performs a partial Fisher-Yates shuffle over a copy of ids.
func (s *RandomSampler) Sample(ids []entity.AccountID, k int) []entity.AccountID {
	if k <= 0 || len(ids) == 0 {
		return nil
	}
	pool := make([]entity.AccountID, len(ids))
	copy(pool, ids)
	if k >= len(pool) {
		k = len(pool)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
