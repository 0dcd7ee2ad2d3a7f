package liquidator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// ExecState is a state of the execution state machine.
type ExecState int32

const (
	ExecIdle ExecState = iota
	ExecSelecting
	ExecSubmitting
	ExecAwaitingReceipt
	ExecSettled
	ExecReverted
	ExecFailed
)

func (s ExecState) String() string {
	switch s {
	case ExecIdle:
		return "idle"
	case ExecSelecting:
		return "selecting"
	case ExecSubmitting:
		return "submitting"
	case ExecAwaitingReceipt:
		return "awaiting_receipt"
	case ExecSettled:
		return "settled"
	case ExecReverted:
		return "reverted"
	case ExecFailed:
		return "failed"
	default:
		return fmt.Sprintf("ExecState(%d)", int32(s))
	}
}

// CoordinatorDeps are the optional collaborators of the coordinator.
type CoordinatorDeps struct {
	// Attempts stores attempt history (optional).
	Attempts outbound.AttemptRepository

	// Notifier fans out finished attempts (optional).
	Notifier outbound.AttemptNotifier

	// OnStateChange is called on every state transition (optional).
	OnStateChange func(ExecState)
}

// ExecutionCoordinator turns the best queue entry into at most one
// liquidation transaction per call of Execute.
type ExecutionCoordinator struct {
	ledger outbound.LedgerClient
	lock   outbound.ExecutionLock
	queue  *OpportunityQueue
	deps   CoordinatorDeps

	borrowAsset     common.Address
	collateralAsset common.Address
	assetDecimals   int32
	bonusRate       decimal.Decimal
	minDebt         decimal.Decimal
	lockTTL         time.Duration
	awaitTimeout    time.Duration
	gasLimit        atomic.Uint64
	state           atomic.Int32

	countersMu sync.Mutex
	counters   entity.AttemptCounters

	metrics outbound.MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewExecutionCoordinator creates an ExecutionCoordinator.
func NewExecutionCoordinator(
	cfg Config,
	ledger outbound.LedgerClient,
	lock outbound.ExecutionLock,
	queue *OpportunityQueue,
	deps CoordinatorDeps,
) (*ExecutionCoordinator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if lock == nil {
		return nil, fmt.Errorf("lock is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.BorrowAsset == (common.Address{}) {
		return nil, fmt.Errorf("borrow asset is required")
	}
	if cfg.CollateralAsset == (common.Address{}) {
		return nil, fmt.Errorf("collateral asset is required")
	}
	cfg.applyDefaults()

	c := &ExecutionCoordinator{
		ledger:          ledger,
		lock:            lock,
		queue:           queue,
		deps:            deps,
		borrowAsset:     cfg.BorrowAsset,
		collateralAsset: cfg.CollateralAsset,
		assetDecimals:   cfg.BorrowAssetDecimals,
		bonusRate:       cfg.BonusRate,
		minDebt:         cfg.MinDebt,
		lockTTL:         cfg.LockTTL,
		awaitTimeout:    cfg.AwaitTimeout,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger.With("component", "execution-coordinator"),
		now:             time.Now,
	}
	c.gasLimit.Store(cfg.GasLimit)
	return c, nil
}

// SetGasLimit changes the gas limit for subsequent submissions.
func (c *ExecutionCoordinator) SetGasLimit(limit uint64) error {
	if limit == 0 {
		return fmt.Errorf("gas limit must be positive")
	}
	c.gasLimit.Store(limit)
	return nil
}

// GasLimit returns the current gas limit.
func (c *ExecutionCoordinator) GasLimit() uint64 {
	return c.gasLimit.Load()
}

// State returns the current state.
func (c *ExecutionCoordinator) State() ExecState {
	return ExecState(c.state.Load())
}

// Counters returns attempt totals since start.
func (c *ExecutionCoordinator) Counters() entity.AttemptCounters {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	return c.counters
}

func (c *ExecutionCoordinator) transition(s ExecState) {
	c.state.Store(int32(s))
	if c.deps.OnStateChange != nil {
		c.deps.OnStateChange(s)
	}
}

// Execute runs one pass of the state machine for the given trigger block.
// It returns the attempt made, or nil when nothing was eligible or the lock
// was busy. Every failure is logged here exactly once and never returned.
func (c *ExecutionCoordinator) Execute(ctx context.Context, block uint64) *entity.LiquidationAttempt {
	defer c.transition(ExecIdle)
	c.transition(ExecSelecting)

	if c.lock.Held(ctx) {
		c.logger.Debug("execution lock held, skipping selection", "block", block)
		return nil
	}
	target, ok := c.queue.PeekBest()
	if !ok || !target.Eligible() {
		return nil
	}

	release, err := c.lock.TryAcquire(ctx, c.lockTTL)
	if err != nil {
		if errors.Is(err, entity.ErrLockHeld) {
			c.logger.Debug("execution lock taken concurrently, skipping", "block", block)
		} else {
			c.logger.Warn("failed to acquire execution lock", "kind", entity.ErrorKind(err), "error", err)
		}
		return nil
	}
	defer release()

	target, ok = c.confirm(ctx, target)
	if !ok {
		return nil
	}

	amount := target.LiquidationAmount(c.assetDecimals)
	attempt, err := entity.NewLiquidationAttempt(target, c.borrowAsset, c.collateralAsset, amount, c.gasLimit.Load(), block, c.now())
	if err != nil {
		c.logger.Warn("liquidation not attempted",
			"target", target.ID.Hex(),
			"debt", target.DebtValue.String(),
			"kind", entity.ErrorKind(err),
			"error", err)
		return nil
	}

	c.transition(ExecSubmitting)
	c.logger.Info("attacking",
		"target", target.ID.Hex(),
		"margin", target.SolvencyMargin.StringFixed(4),
		"debt", target.DebtValue.StringFixed(2),
		"amount", amount.String(),
		"estimatedBonus", target.EstimatedBonus(c.bonusRate).StringFixed(2),
		"gasLimit", attempt.GasLimit,
		"block", block)
	c.save(ctx, attempt)

	handle, err := c.ledger.Submit(ctx, outbound.TxRequest{
		BorrowAsset:     c.borrowAsset,
		Amount:          amount,
		Target:          target.ID,
		CollateralAsset: c.collateralAsset,
		GasLimit:        attempt.GasLimit,
	})
	if err != nil {
		c.fail(ctx, attempt, fmt.Errorf("%w: %w", entity.ErrSubmission, err))
		return attempt
	}
	attempt.TxHash = handle.Hash

	c.transition(ExecAwaitingReceipt)
	awaitCtx, cancel := context.WithTimeout(ctx, c.awaitTimeout)
	receipt, err := c.ledger.Await(awaitCtx, handle)
	cancel()
	if err != nil {
		c.fail(ctx, attempt, fmt.Errorf("%w: %w", entity.ErrSubmission, err))
		return attempt
	}
	attempt.ReceiptBlock = receipt.BlockNumber

	if !receipt.Success {
		revertErr := fmt.Errorf("tx %s: %w", receipt.TxHash.Hex(), entity.ErrExecutionRevert)
		attempt.Finish(entity.OutcomeReverted, revertErr.Error(), c.now())
		c.transition(ExecReverted)
		// Requeued only once a later cycle reads it as eligible again.
		c.queue.Remove(attempt.Target)
		c.logger.Warn("attack reverted",
			"target", attempt.Target.Hex(),
			"tx", receipt.TxHash.Hex(),
			"receiptBlock", receipt.BlockNumber,
			"kind", entity.ErrorKind(revertErr))
		c.record(ctx, attempt)
		return attempt
	}

	attempt.Finish(entity.OutcomeSettled, "", c.now())
	c.transition(ExecSettled)
	c.queue.Remove(attempt.Target)
	c.logger.Info("liquidation settled",
		"target", attempt.Target.Hex(),
		"tx", receipt.TxHash.Hex(),
		"receiptBlock", receipt.BlockNumber,
		"gasUsed", receipt.GasUsed)
	c.record(ctx, attempt)
	return attempt
}

// confirm re-reads the target so a queue entry that went stale since its last
// sampling is never attacked. The queue is updated with what was read.
func (c *ExecutionCoordinator) confirm(ctx context.Context, target entity.AccountHealth) (entity.AccountHealth, bool) {
	raw, err := c.ledger.ReadAccountHealth(ctx, target.ID)
	if err != nil {
		miss := fmt.Errorf("%w: %w", entity.ErrEvaluationMiss, err)
		c.logger.Warn("target re-read failed, skipping",
			"target", target.ID.Hex(),
			"kind", entity.ErrorKind(miss),
			"error", err)
		return entity.AccountHealth{}, false
	}

	fresh := raw.Health(target.ID)
	switch {
	case fresh.DebtValue.LessThan(c.minDebt):
		c.queue.Remove(target.ID)
		c.logger.Info("target no longer worth liquidating",
			"target", target.ID.Hex(),
			"debt", fresh.DebtValue.StringFixed(2))
		return entity.AccountHealth{}, false
	case !fresh.Eligible():
		c.queue.Update([]entity.AccountHealth{fresh})
		c.logger.Info("target recovered before submission",
			"target", target.ID.Hex(),
			"margin", fresh.SolvencyMargin.StringFixed(4))
		return entity.AccountHealth{}, false
	}
	c.queue.Update([]entity.AccountHealth{fresh})
	return fresh, true
}

func (c *ExecutionCoordinator) fail(ctx context.Context, attempt *entity.LiquidationAttempt, err error) {
	attempt.Finish(entity.OutcomeFailed, err.Error(), c.now())
	c.transition(ExecFailed)
	c.logger.Error("liquidation failed",
		"target", attempt.Target.Hex(),
		"tx", attempt.TxHash.Hex(),
		"kind", entity.ErrorKind(err),
		"error", err)
	c.record(ctx, attempt)
}

// record updates counters and hands a finished attempt to the optional sinks.
// Sink failures are logged at debug level since the outcome was already logged.
func (c *ExecutionCoordinator) record(ctx context.Context, attempt *entity.LiquidationAttempt) {
	c.countersMu.Lock()
	c.counters.Attempts++
	switch attempt.Outcome {
	case entity.OutcomeSettled:
		c.counters.Settled++
	case entity.OutcomeReverted:
		c.counters.Reverted++
	case entity.OutcomeFailed:
		c.counters.Failed++
	}
	c.countersMu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordAttempt(ctx, string(attempt.Outcome))
	}
	c.save(ctx, attempt)
	if c.deps.Notifier != nil {
		if err := c.deps.Notifier.Notify(ctx, *attempt); err != nil {
			c.logger.Debug("failed to notify attempt", "id", attempt.ID, "error", err)
		}
	}
}

func (c *ExecutionCoordinator) save(ctx context.Context, attempt *entity.LiquidationAttempt) {
	if c.deps.Attempts == nil {
		return
	}
	if err := c.deps.Attempts.SaveAttempt(ctx, attempt); err != nil {
		c.logger.Debug("failed to save attempt", "id", attempt.ID, "error", err)
	}
}
