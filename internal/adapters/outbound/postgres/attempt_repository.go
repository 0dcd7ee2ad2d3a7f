package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that AttemptRepository implements outbound.AttemptRepository
var _ outbound.AttemptRepository = (*AttemptRepository)(nil)

const upsertAttemptSQL = `
	INSERT INTO liquidation_attempts (
		id, target, solvency_margin, debt_value, borrow_asset, collateral_asset,
		amount, gas_limit, trigger_block, tx_hash, receipt_block, outcome, reason,
		started_at, finished_at
	) VALUES (
		$1, $2, $3::numeric, $4::numeric, $5, $6,
		$7::numeric, $8, $9, $10, $11, $12, $13,
		$14, $15
	)
	ON CONFLICT (id) DO UPDATE SET
		tx_hash       = EXCLUDED.tx_hash,
		receipt_block = EXCLUDED.receipt_block,
		outcome       = EXCLUDED.outcome,
		reason        = EXCLUDED.reason,
		finished_at   = EXCLUDED.finished_at`

const recentAttemptsSQL = `
	SELECT id, target, solvency_margin::text, debt_value::text, borrow_asset, collateral_asset,
		amount::text, gas_limit, trigger_block, tx_hash, receipt_block, outcome, reason,
		started_at, finished_at
	FROM liquidation_attempts
	ORDER BY started_at DESC, id
	LIMIT $1`

// AttemptRepository persists liquidation attempts.
type AttemptRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool, logger *slog.Logger) (*AttemptRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptRepository{
		pool:   pool,
		logger: logger.With("component", "attempt-repository"),
	}, nil
}

// attemptRow is the column representation of a LiquidationAttempt.
type attemptRow struct {
	ID              uuid.UUID
	Target          string
	SolvencyMargin  string
	DebtValue       string
	BorrowAsset     string
	CollateralAsset string
	Amount          string
	GasLimit        int64
	TriggerBlock    int64
	TxHash          *string
	ReceiptBlock    *int64
	Outcome         string
	Reason          string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

func toRow(a *entity.LiquidationAttempt) attemptRow {
	row := attemptRow{
		ID:              a.ID,
		Target:          a.Target.Hex(),
		SolvencyMargin:  a.SolvencyMargin.String(),
		DebtValue:       a.DebtValue.String(),
		BorrowAsset:     a.BorrowAsset.Hex(),
		CollateralAsset: a.CollateralAsset.Hex(),
		Amount:          "0",
		GasLimit:        int64(a.GasLimit),
		TriggerBlock:    int64(a.TriggerBlock),
		Outcome:         string(a.Outcome),
		Reason:          a.Reason,
		StartedAt:       a.StartedAt.UTC(),
	}
	if a.Amount != nil {
		row.Amount = a.Amount.String()
	}
	if a.TxHash != (common.Hash{}) {
		h := a.TxHash.Hex()
		row.TxHash = &h
	}
	if a.ReceiptBlock > 0 {
		b := int64(a.ReceiptBlock)
		row.ReceiptBlock = &b
	}
	if !a.FinishedAt.IsZero() {
		f := a.FinishedAt.UTC()
		row.FinishedAt = &f
	}
	return row
}

func fromRow(row attemptRow) (entity.LiquidationAttempt, error) {
	margin, err := decimal.NewFromString(row.SolvencyMargin)
	if err != nil {
		return entity.LiquidationAttempt{}, fmt.Errorf("invalid solvency_margin %q: %w", row.SolvencyMargin, err)
	}
	debt, err := decimal.NewFromString(row.DebtValue)
	if err != nil {
		return entity.LiquidationAttempt{}, fmt.Errorf("invalid debt_value %q: %w", row.DebtValue, err)
	}
	amount, ok := new(big.Int).SetString(row.Amount, 10)
	if !ok {
		return entity.LiquidationAttempt{}, fmt.Errorf("invalid amount %q", row.Amount)
	}

	a := entity.LiquidationAttempt{
		ID:              row.ID,
		Target:          common.HexToAddress(row.Target),
		SolvencyMargin:  margin,
		DebtValue:       debt,
		BorrowAsset:     common.HexToAddress(row.BorrowAsset),
		CollateralAsset: common.HexToAddress(row.CollateralAsset),
		Amount:          amount,
		GasLimit:        uint64(row.GasLimit),
		TriggerBlock:    uint64(row.TriggerBlock),
		Outcome:         entity.AttemptOutcome(row.Outcome),
		Reason:          row.Reason,
		StartedAt:       row.StartedAt,
	}
	if row.TxHash != nil {
		a.TxHash = common.HexToHash(*row.TxHash)
	}
	if row.ReceiptBlock != nil {
		a.ReceiptBlock = uint64(*row.ReceiptBlock)
	}
	if row.FinishedAt != nil {
		a.FinishedAt = *row.FinishedAt
	}
	return a, nil
}

// SaveAttempt inserts the attempt or updates its outcome columns.
func (r *AttemptRepository) SaveAttempt(ctx context.Context, attempt *entity.LiquidationAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt cannot be nil")
	}
	row := toRow(attempt)
	_, err := r.pool.Exec(ctx, upsertAttemptSQL,
		row.ID, row.Target, row.SolvencyMargin, row.DebtValue, row.BorrowAsset, row.CollateralAsset,
		row.Amount, row.GasLimit, row.TriggerBlock, row.TxHash, row.ReceiptBlock, row.Outcome, row.Reason,
		row.StartedAt, row.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (r *AttemptRepository) RecentAttempts(ctx context.Context, limit int) ([]entity.LiquidationAttempt, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, recentAttemptsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}

	raw, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (attemptRow, error) {
		var a attemptRow
		err := row.Scan(
			&a.ID, &a.Target, &a.SolvencyMargin, &a.DebtValue, &a.BorrowAsset, &a.CollateralAsset,
			&a.Amount, &a.GasLimit, &a.TriggerBlock, &a.TxHash, &a.ReceiptBlock, &a.Outcome, &a.Reason,
			&a.StartedAt, &a.FinishedAt,
		)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan attempts: %w", err)
	}

	out := make([]entity.LiquidationAttempt, 0, len(raw))
	for _, row := range raw {
		a, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
