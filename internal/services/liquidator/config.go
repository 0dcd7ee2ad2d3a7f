// Package liquidator watches a lending pool for under-collateralized accounts
// and liquidates the riskiest one with a flash-loan executor contract.
//
// Per block the Engine runs one cycle:
//
//	new block → ingest that block's events into the CandidateRegistry
//	          → sample a batch → RiskEvaluator reads each account's health
//	          → OpportunityQueue update → ExecutionCoordinator (at most one attempt)
//
// Cycles never overlap. A block that arrives while a cycle is running is skipped.
package liquidator

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

const (
	// tracerName is the instrumentation name for this service.
	tracerName = "github.com/archon-research/stl-liquidator/internal/services/liquidator"
)

// Config holds configuration for the liquidation engine.
type Config struct {
	// BackfillWindow is how many trailing blocks are scanned at startup.
	BackfillWindow uint64

	// BackfillChunk is the size of each backfill sub-range.
	BackfillChunk uint64

	// BackfillDelay is the pause between backfill sub-range calls.
	BackfillDelay time.Duration

	// BatchSize is the number of candidates evaluated per cycle.
	BatchSize int

	// EvalConcurrency bounds concurrent health reads within a batch.
	EvalConcurrency int

	// MinDebt skips accounts whose debt (base currency) is below this floor.
	MinDebt decimal.Decimal

	// EvictAfter is the number of consecutive healthy observations after which
	// an account leaves the opportunity queue.
	EvictAfter int

	// GasLimit is the fixed gas limit for liquidation transactions.
	GasLimit uint64

	// BorrowAsset is flash-borrowed to repay the target's debt.
	BorrowAsset common.Address

	// BorrowAssetDecimals converts the base-currency debt into asset units.
	BorrowAssetDecimals int32

	// CollateralAsset is the collateral seized from the target.
	CollateralAsset common.Address

	// FallbackAccounts are seeded when discovery yields no candidates.
	FallbackAccounts []entity.AccountID

	// WatchBand is the upper margin of the near-liquidation watch band.
	WatchBand decimal.Decimal

	// BonusRate estimates the liquidation bonus for logging.
	BonusRate decimal.Decimal

	// ActiveTargets is the number of top queue entries exposed in snapshots.
	ActiveTargets int

	// StatusInterval is how often a snapshot is published without new blocks.
	StatusInterval time.Duration

	// HealthTimeout is how long without a block before the engine reports unhealthy.
	HealthTimeout time.Duration

	// LockTTL bounds how long the execution lock may be held.
	LockTTL time.Duration

	// AwaitTimeout bounds how long to wait for a receipt.
	AwaitTimeout time.Duration

	// Seed seeds the candidate sampler. Zero picks a time-based seed.
	Seed uint64

	// LogLines returns recent log lines for snapshots (optional).
	LogLines func() []string

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics is the metrics recorder (optional).
	Metrics outbound.MetricsRecorder
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		BackfillWindow:      5000,
		BackfillChunk:       1000,
		BackfillDelay:       200 * time.Millisecond,
		BatchSize:           5,
		EvalConcurrency:     5,
		MinDebt:             decimal.NewFromInt(10),
		EvictAfter:          3,
		GasLimit:            600000,
		BorrowAssetDecimals: 6,
		WatchBand:           decimal.RequireFromString("1.05"),
		BonusRate:           decimal.RequireFromString("0.05"),
		ActiveTargets:       5,
		StatusInterval:      10 * time.Second,
		HealthTimeout:       2 * time.Minute,
		LockTTL:             5 * time.Minute,
		AwaitTimeout:        3 * time.Minute,
		Logger:              slog.Default(),
	}
}

// applyDefaults fills zero-valued fields from ConfigDefaults.
func (c *Config) applyDefaults() {
	defaults := ConfigDefaults()
	if c.BackfillWindow == 0 {
		c.BackfillWindow = defaults.BackfillWindow
	}
	if c.BackfillChunk == 0 {
		c.BackfillChunk = defaults.BackfillChunk
	}
	if c.BackfillDelay == 0 {
		c.BackfillDelay = defaults.BackfillDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.EvalConcurrency <= 0 {
		c.EvalConcurrency = c.BatchSize
	}
	if c.MinDebt.IsZero() {
		c.MinDebt = defaults.MinDebt
	}
	if c.EvictAfter <= 0 {
		c.EvictAfter = defaults.EvictAfter
	}
	if c.GasLimit == 0 {
		c.GasLimit = defaults.GasLimit
	}
	if c.BorrowAssetDecimals == 0 {
		c.BorrowAssetDecimals = defaults.BorrowAssetDecimals
	}
	if c.WatchBand.IsZero() {
		c.WatchBand = defaults.WatchBand
	}
	if c.BonusRate.IsZero() {
		c.BonusRate = defaults.BonusRate
	}
	if c.ActiveTargets <= 0 {
		c.ActiveTargets = defaults.ActiveTargets
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = defaults.StatusInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = defaults.HealthTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.AwaitTimeout <= 0 {
		c.AwaitTimeout = defaults.AwaitTimeout
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}
