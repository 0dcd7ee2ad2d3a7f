package liquidator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/hexutil"
	"github.com/archon-research/stl-liquidator/internal/ports/inbound"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time checks that Engine implements the inbound ports.
var (
	_ inbound.Controller    = (*Engine)(nil)
	_ inbound.HealthChecker = (*Engine)(nil)
)

// Engine owns the candidate registry and opportunity queue and drives one
// cycle per accepted block.
type Engine struct {
	config Config

	ledger      outbound.LedgerClient
	subscriber  outbound.BlockSubscriber
	statusSink  outbound.StatusSink
	metrics     outbound.MetricsRecorder
	registry    *CandidateRegistry
	backfiller  *Backfiller
	sampler     Sampler
	evaluator   *RiskEvaluator
	queue       *OpportunityQueue
	coordinator *ExecutionCoordinator

	lifecycle sync.Mutex
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	busy        atomic.Bool
	status      atomic.Int32
	lastBlock   atomic.Uint64
	lastBlockAt atomic.Int64
	startedAt   atomic.Int64
	ready       atomic.Bool
	watchCount  atomic.Int64

	logger *slog.Logger
}

// EngineDeps are the collaborators of the Engine.
type EngineDeps struct {
	Ledger     outbound.LedgerClient
	Subscriber outbound.BlockSubscriber
	Lock       outbound.ExecutionLock

	// StatusSink receives snapshots (optional).
	StatusSink outbound.StatusSink

	// Attempts stores attempt history (optional).
	Attempts outbound.AttemptRepository

	// Notifier fans out finished attempts (optional).
	Notifier outbound.AttemptNotifier

	// Sampler picks each cycle's batch. Defaults to a RandomSampler seeded from Config.Seed.
	Sampler Sampler
}

// NewEngine creates a new Engine.
func NewEngine(config Config, deps EngineDeps) (*Engine, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if deps.Subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	if deps.Lock == nil {
		return nil, fmt.Errorf("lock is required")
	}
	config.applyDefaults()

	e := &Engine{
		config:     config,
		ledger:     deps.Ledger,
		subscriber: deps.Subscriber,
		statusSink: deps.StatusSink,
		metrics:    config.Metrics,
		registry:   NewCandidateRegistry(),
		queue:      NewOpportunityQueue(config.EvictAfter),
		sampler:    deps.Sampler,
		logger:     config.Logger.With("component", "liquidator-engine"),
	}
	if e.sampler == nil {
		e.sampler = NewRandomSampler(config.Seed)
	}

	var err error
	if e.backfiller, err = NewBackfiller(config, deps.Ledger, e.registry); err != nil {
		return nil, err
	}
	if e.evaluator, err = NewRiskEvaluator(config, deps.Ledger); err != nil {
		return nil, err
	}
	e.coordinator, err = NewExecutionCoordinator(config, deps.Ledger, deps.Lock, e.queue, CoordinatorDeps{
		Attempts:      deps.Attempts,
		Notifier:      deps.Notifier,
		OnStateChange: e.onExecState,
	})
	if err != nil {
		return nil, err
	}

	e.status.Store(int32(entity.StatusStopped))
	return e, nil
}

// Start subscribes to new blocks and runs the startup backfill in the
// background. Calling Start on a running engine is a no-op.
//
// Start fails with entity.ErrCriticalStartup only when the node cannot be
// reached and no fallback accounts are configured.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.running.Load() {
		return nil
	}

	head, headErr := e.ledger.CurrentHeight(ctx)
	if headErr != nil && !e.backfiller.HasFallback() {
		return fmt.Errorf("%w: node unreachable and no fallback accounts: %w", entity.ErrCriticalStartup, headErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	headers, err := e.subscriber.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: subscribe: %w", entity.ErrCriticalStartup, err)
	}

	e.ctx, e.cancel = runCtx, cancel
	e.running.Store(true)
	e.startedAt.Store(time.Now().UnixNano())
	e.setStatus(entity.StatusScanning)

	// The gate stays closed until the backfill finishes, so blocks that
	// arrive meanwhile are skipped like any other overlapping block.
	e.busy.Store(true)
	e.wg.Add(3)
	go e.runBackfill(head, headErr)
	go e.processHeaders(headers)
	go e.statusLoop()

	e.logger.Info("liquidation engine started", "head", head, "gasLimit", e.coordinator.GasLimit())
	return nil
}

// Stop unsubscribes and waits for the running cycle, including any
// transaction awaiting its receipt. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)

	e.cancel()
	err := e.subscriber.Unsubscribe()
	e.wg.Wait()
	e.busy.Store(false)

	e.setStatus(entity.StatusStopped)
	e.publish(context.Background())
	e.logger.Info("liquidation engine stopped")
	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// SetGasLimit changes the gas limit used for subsequent submissions.
func (e *Engine) SetGasLimit(limit uint64) error {
	if err := e.coordinator.SetGasLimit(limit); err != nil {
		return err
	}
	e.logger.Info("gas limit updated", "gasLimit", limit)
	return nil
}

// Snapshot returns a read-only copy of the current engine state.
func (e *Engine) Snapshot() entity.Snapshot {
	top := e.queue.Top(e.config.ActiveTargets)
	targets := make([]entity.TargetSummary, 0, len(top))
	for _, h := range top {
		targets = append(targets, entity.TargetSummary{
			Account:        h.ID.Hex(),
			SolvencyMargin: h.SolvencyMargin,
			DebtValue:      h.DebtValue,
		})
	}

	var lines []string
	if e.config.LogLines != nil {
		lines = e.config.LogLines()
	}

	return entity.Snapshot{
		Status:         entity.Status(e.status.Load()),
		LastBlock:      e.lastBlock.Load(),
		CandidateCount: e.registry.Len(),
		QueueLength:    e.queue.Len(),
		WatchCount:     int(e.watchCount.Load()),
		GasLimit:       e.coordinator.GasLimit(),
		Counters:       e.coordinator.Counters(),
		ActiveTargets:  targets,
		RecentLogLines: lines,
		UpdatedAt:      time.Now().UTC(),
	}
}

// IsReady returns true once the first block cycle has completed.
func (e *Engine) IsReady() bool {
	return e.ready.Load()
}

// IsHealthy returns true while the engine runs and blocks keep arriving
// within the health timeout.
func (e *Engine) IsHealthy() bool {
	if !e.running.Load() {
		return false
	}
	last := e.lastBlockAt.Load()
	if last == 0 {
		last = e.startedAt.Load()
	}
	return time.Since(time.Unix(0, last)) <= e.config.HealthTimeout
}

func (e *Engine) runBackfill(head uint64, headErr error) {
	defer e.wg.Done()
	defer e.busy.Store(false)

	if headErr != nil {
		e.logger.Warn("node unreachable at startup, skipping backfill",
			"kind", entity.ErrorKind(headErr), "error", headErr)
		e.backfiller.SeedFallback()
	} else if _, err := e.backfiller.Run(e.ctx, head); err != nil {
		e.logger.Warn("backfill interrupted", "error", err)
	}

	if e.metrics != nil {
		e.metrics.RecordCandidates(e.ctx, e.registry.Len())
	}
	e.setStatus(entity.StatusIdle)
	e.publish(e.ctx)
}

// processHeaders hands each header to a cycle through a single-slot gate.
// Headers that arrive while a cycle is running, or that do not advance the
// chain, are dropped.
func (e *Engine) processHeaders(headers <-chan outbound.BlockHeader) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case header, ok := <-headers:
			if !ok {
				return
			}
			block, err := hexutil.ParseUint64(header.Number)
			if err != nil {
				e.logger.Warn("dropping header with invalid block number", "number", header.Number, "error", err)
				continue
			}
			if e.ctx.Err() != nil {
				return
			}
			if block <= e.lastBlock.Load() {
				continue
			}
			if !e.busy.CompareAndSwap(false, true) {
				e.logger.Debug("cycle in progress, skipping block", "block", block)
				if e.metrics != nil {
					e.metrics.RecordSkippedBlock(e.ctx)
				}
				continue
			}

			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				defer e.busy.Store(false)
				e.runCycle(block, header.Hash)
			}()
		}
	}
}

// runCycle is one pass: ingest → sample → evaluate → rank → execute.
func (e *Engine) runCycle(block uint64, hash string) {
	start := time.Now()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(e.ctx, "liquidator.cycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("block.number", int64(block)),
			attribute.String("block.hash", hash),
		),
	)
	status := "ok"
	defer func() {
		span.SetAttributes(attribute.Int64("cycle.duration_ms", time.Since(start).Milliseconds()))
		span.End()
		if e.metrics != nil {
			e.metrics.RecordCycle(e.ctx, time.Since(start), status)
		}
	}()

	e.lastBlock.Store(block)
	e.lastBlockAt.Store(time.Now().UnixNano())
	e.setStatus(entity.StatusScanning)
	e.publish(ctx)

	added, err := e.backfiller.IngestBlock(ctx, block)
	if err != nil {
		status = "ingest_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "live ingestion failed")
		e.logger.Warn("live ingestion failed", "block", block, "kind", entity.ErrorKind(err), "error", err)
	} else if added > 0 {
		e.logger.Info("new candidates discovered", "block", block, "added", added, "total", e.registry.Len())
		if e.metrics != nil {
			e.metrics.RecordCandidates(ctx, e.registry.Len())
		}
	}

	batch := e.sampler.Sample(e.registry.Accounts(), e.config.BatchSize)
	eval := e.evaluator.Evaluate(ctx, batch)
	e.observeWatchBand(eval.Healths)
	if dropped := e.queue.Drop(eval.BelowFloor); dropped > 0 {
		e.logger.Info("dropped targets below minimum debt", "block", block, "dropped", dropped)
	}
	e.queue.Update(eval.Healths)
	span.SetAttributes(
		attribute.Int("cycle.batch", len(batch)),
		attribute.Int("cycle.evaluated", len(eval.Healths)),
		attribute.Int("cycle.queue", e.queue.Len()),
	)

	if ctx.Err() == nil {
		// The receipt wait outlives Stop so an in-flight transaction is always resolved.
		if attempt := e.coordinator.Execute(context.WithoutCancel(ctx), block); attempt != nil {
			span.SetAttributes(
				attribute.String("attempt.outcome", string(attempt.Outcome)),
				attribute.String("attempt.tx", attempt.TxHash.Hex()),
			)
		}
	}

	e.ready.Store(true)
	if ctx.Err() == nil {
		e.setStatus(entity.StatusIdle)
		e.publish(ctx)
	}
}

func (e *Engine) observeWatchBand(healths []entity.AccountHealth) {
	watch := 0
	for _, h := range healths {
		if h.InWatchBand(e.config.WatchBand) {
			watch++
			e.logger.Debug("account near liquidation",
				"account", h.ID.Hex(),
				"margin", h.SolvencyMargin.StringFixed(4),
				"debt", h.DebtValue.StringFixed(2))
		}
	}
	e.watchCount.Store(int64(watch))
}

func (e *Engine) onExecState(s ExecState) {
	switch s {
	case ExecSubmitting, ExecAwaitingReceipt:
		if entity.Status(e.status.Load()) != entity.StatusAttacking {
			e.setStatus(entity.StatusAttacking)
			e.publish(context.Background())
		}
	case ExecSettled, ExecReverted, ExecFailed:
		e.setStatus(entity.StatusScanning)
		e.publish(context.Background())
	}
}

// statusLoop publishes a snapshot periodically so consumers see counters
// move even when no blocks arrive.
func (e *Engine) statusLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.publish(e.ctx)
		}
	}
}

func (e *Engine) setStatus(s entity.Status) {
	e.status.Store(int32(s))
}

func (e *Engine) publish(ctx context.Context) {
	if e.statusSink == nil {
		return
	}
	if err := e.statusSink.Publish(ctx, e.Snapshot()); err != nil && ctx.Err() == nil {
		e.logger.Debug("failed to publish status", "error", err)
	}
}
