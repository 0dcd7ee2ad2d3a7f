// Package testutil provides hand-written test doubles for the outbound ports.
package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that MockLedger implements outbound.LedgerClient
var _ outbound.LedgerClient = (*MockLedger)(nil)

// FetchCall records one FetchEvents invocation.
type FetchCall struct {
	Kind     entity.EventKind
	From, To uint64
}

// MockLedger implements outbound.LedgerClient for testing.
// Behavior is driven by exported fields; the *Fn hooks override the defaults.
type MockLedger struct {
	mu sync.Mutex

	Height    uint64
	HeightErr error

	// events holds records by block number.
	events map[uint64][]entity.EventRecord
	// FailRanges makes FetchEvents fail for any range starting at the key.
	FailRanges map[uint64]error

	accounts map[entity.AccountID]entity.RawAccountData
	readErrs map[entity.AccountID]error

	// ReadDelay delays every health read.
	ReadDelay time.Duration

	// SubmitErr is returned by Submit when set.
	SubmitErr error
	// AwaitErr is returned by Await when set.
	AwaitErr error
	// Revert makes every receipt report failure.
	Revert bool
	// AwaitDelay delays Await.
	AwaitDelay time.Duration
	// AwaitGate, when set, blocks Await until it is closed.
	AwaitGate chan struct{}

	FetchEventsFn func(ctx context.Context, kind entity.EventKind, from, to uint64) ([]entity.EventRecord, error)

	fetchCalls  []FetchCall
	readCalls   int
	submitted   []outbound.TxRequest
	inFlight    int
	maxInFlight int
	nonce       uint64
}

// NewMockLedger creates a MockLedger at the given height.
func NewMockLedger(height uint64) *MockLedger {
	return &MockLedger{
		Height:     height,
		events:     make(map[uint64][]entity.EventRecord),
		FailRanges: make(map[uint64]error),
		accounts:   make(map[entity.AccountID]entity.RawAccountData),
		readErrs:   make(map[entity.AccountID]error),
	}
}

// AddEvent registers an event for the given account at block.
func (m *MockLedger) AddEvent(kind entity.EventKind, account entity.AccountID, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[block] = append(m.events[block], entity.EventRecord{
		Kind:        kind,
		Account:     account,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
	})
}

// SetHealth sets the account's health from decimal strings in base currency.
func (m *MockLedger) SetHealth(id entity.AccountID, collateral, debt, margin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = RawHealth(collateral, debt, margin)
	delete(m.readErrs, id)
}

// SetReadError makes reads of id fail.
func (m *MockLedger) SetReadError(id entity.AccountID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs[id] = err
}

// RawHealth converts decimal strings into the pool's fixed-point representation.
func RawHealth(collateral, debt, margin string) entity.RawAccountData {
	return entity.RawAccountData{
		TotalCollateralBase: decimal.RequireFromString(collateral).Shift(entity.BaseCurrencyDecimals).BigInt(),
		TotalDebtBase:       decimal.RequireFromString(debt).Shift(entity.BaseCurrencyDecimals).BigInt(),
		HealthFactor:        decimal.RequireFromString(margin).Shift(entity.HealthFactorDecimals).BigInt(),
	}
}

func (m *MockLedger) CurrentHeight(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HeightErr != nil {
		return 0, m.HeightErr
	}
	return m.Height, nil
}

func (m *MockLedger) FetchEvents(ctx context.Context, kind entity.EventKind, from, to uint64) ([]entity.EventRecord, error) {
	m.mu.Lock()
	m.fetchCalls = append(m.fetchCalls, FetchCall{Kind: kind, From: from, To: to})
	fn := m.FetchEventsFn
	failErr := m.FailRanges[from]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, kind, from, to)
	}
	if failErr != nil {
		return nil, failErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.EventRecord
	for b := from; b <= to; b++ {
		for _, rec := range m.events[b] {
			if rec.Kind == kind {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (m *MockLedger) ReadAccountHealth(ctx context.Context, id entity.AccountID) (entity.RawAccountData, error) {
	m.mu.Lock()
	m.readCalls++
	delay := m.ReadDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return entity.RawAccountData{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.readErrs[id]; ok {
		return entity.RawAccountData{}, err
	}
	raw, ok := m.accounts[id]
	if !ok {
		return entity.RawAccountData{}, fmt.Errorf("unknown account %s: %w", id.Hex(), entity.ErrTransientNetwork)
	}
	return raw, nil
}

func (m *MockLedger) Submit(_ context.Context, req outbound.TxRequest) (outbound.TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return outbound.TxHandle{}, m.SubmitErr
	}
	m.submitted = append(m.submitted, req)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.nonce++
	return outbound.TxHandle{
		Hash:  common.BigToHash(new(big.Int).SetUint64(0xabc000 + m.nonce)),
		Nonce: m.nonce,
	}, nil
}

func (m *MockLedger) Await(ctx context.Context, handle outbound.TxHandle) (outbound.Receipt, error) {
	m.mu.Lock()
	delay, gate := m.AwaitDelay, m.AwaitGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	if m.AwaitErr != nil {
		return outbound.Receipt{}, m.AwaitErr
	}
	if ctx.Err() != nil {
		return outbound.Receipt{}, ctx.Err()
	}
	return outbound.Receipt{
		TxHash:      handle.Hash,
		BlockNumber: m.Height + 1,
		GasUsed:     350000,
		Success:     !m.Revert,
	}, nil
}

// FetchCalls returns the recorded FetchEvents calls.
func (m *MockLedger) FetchCalls() []FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FetchCall, len(m.fetchCalls))
	copy(out, m.fetchCalls)
	return out
}

// ReadCalls returns the number of health reads.
func (m *MockLedger) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// Submitted returns the submitted requests.
func (m *MockLedger) Submitted() []outbound.TxRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]outbound.TxRequest, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// MaxInFlight returns the highest number of simultaneously outstanding transactions.
func (m *MockLedger) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}
