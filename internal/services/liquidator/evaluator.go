package liquidator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// RiskEvaluator reads the current solvency of a batch of accounts.
type RiskEvaluator struct {
	ledger      outbound.LedgerClient
	minDebt     decimal.Decimal
	concurrency int
	metrics     outbound.MetricsRecorder
	logger      *slog.Logger
}

// NewRiskEvaluator creates a RiskEvaluator.
func NewRiskEvaluator(cfg Config, ledger outbound.LedgerClient) (*RiskEvaluator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	cfg.applyDefaults()
	return &RiskEvaluator{
		ledger:      ledger,
		minDebt:     cfg.MinDebt,
		concurrency: cfg.EvalConcurrency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "risk-evaluator"),
	}, nil
}

// Evaluation is the outcome of reading one batch.
type Evaluation struct {
	// Healths are the readings that clear the minimum-debt floor, in batch order.
	Healths []entity.AccountHealth

	// BelowFloor are accounts read successfully whose debt is under the floor,
	// including repaid or fully liquidated positions.
	BelowFloor []entity.AccountID
}

// Evaluate reads every account in batch concurrently. A failed read is logged
// as an evaluation miss and omitted; the account will be retried whenever it
// is sampled again.
func (e *RiskEvaluator) Evaluate(ctx context.Context, batch []entity.AccountID) Evaluation {
	results := make([]*entity.AccountHealth, len(batch))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, id := range batch {
		g.Go(func() error {
			raw, err := e.ledger.ReadAccountHealth(ctx, id)
			if err != nil {
				miss := fmt.Errorf("%w: %w", entity.ErrEvaluationMiss, err)
				e.logger.Warn("evaluation miss",
					"account", id.Hex(),
					"kind", entity.ErrorKind(miss),
					"error", err)
				return nil
			}
			h := raw.Health(id)
			results[i] = &h
			return nil
		})
	}
	// Misses never fail the group, so Wait only joins the reads.
	g.Wait()

	var (
		out    Evaluation
		misses int
	)
	for _, h := range results {
		switch {
		case h == nil:
			misses++
		case h.DebtValue.LessThan(e.minDebt):
			out.BelowFloor = append(out.BelowFloor, h.ID)
		default:
			out.Healths = append(out.Healths, *h)
		}
	}

	if e.metrics != nil {
		e.metrics.RecordEvaluation(ctx, "ok", len(out.Healths))
		e.metrics.RecordEvaluation(ctx, "miss", misses)
		e.metrics.RecordEvaluation(ctx, "below_floor", len(out.BelowFloor))
	}
	e.logger.Debug("batch evaluated",
		"batch", len(batch), "kept", len(out.Healths), "misses", misses, "belowFloor", len(out.BelowFloor))
	return out
}
