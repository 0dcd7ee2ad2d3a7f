package testutil

import (
	"context"
	"sync"

	"github.com/archon-research/stl-liquidator/internal/pkg/hexutil"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that MockSubscriber implements outbound.BlockSubscriber
var _ outbound.BlockSubscriber = (*MockSubscriber)(nil)

// MockSubscriber emits headers on demand. It can be subscribed again after
// Unsubscribe, like the websocket subscriber.
type MockSubscriber struct {
	mu           sync.Mutex
	headers      chan outbound.BlockHeader
	closed       bool
	SubscribeErr error
	subscribes   int
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{}
}

func (m *MockSubscriber) Subscribe(_ context.Context) (<-chan outbound.BlockHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	m.headers = make(chan outbound.BlockHeader, 100)
	m.closed = false
	m.subscribes++
	return m.headers, nil
}

func (m *MockSubscriber) Unsubscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed && m.headers != nil {
		m.closed = true
		close(m.headers)
	}
	return nil
}

func (m *MockSubscriber) HealthCheck(_ context.Context) error {
	return nil
}

// SendBlock emits a header for the given block number.
// It reports false if there is no open subscription.
func (m *MockSubscriber) SendBlock(number uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.headers == nil {
		return false
	}
	m.headers <- outbound.BlockHeader{
		Number: hexutil.FormatUint64(number),
		Hash:   "0x" + hexutil.FormatUint64(number)[2:] + "beef",
	}
	return true
}

// Subscribes returns how many times Subscribe succeeded.
func (m *MockSubscriber) Subscribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes
}
