package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AttemptOutcome is the terminal (or pending) state of a liquidation attempt.
type AttemptOutcome string

const (
	OutcomePending  AttemptOutcome = "pending"
	OutcomeSettled  AttemptOutcome = "settled"
	OutcomeReverted AttemptOutcome = "reverted"
	OutcomeFailed   AttemptOutcome = "failed"
)

// IsFinal reports whether the outcome is terminal.
func (o AttemptOutcome) IsFinal() bool {
	return o == OutcomeSettled || o == OutcomeReverted || o == OutcomeFailed
}

// LiquidationAttempt records one pass through the execution state machine.
type LiquidationAttempt struct {
	ID              uuid.UUID
	Target          AccountID
	SolvencyMargin  decimal.Decimal
	DebtValue       decimal.Decimal
	BorrowAsset     common.Address
	CollateralAsset common.Address
	Amount          *big.Int
	GasLimit        uint64
	TriggerBlock    uint64
	TxHash          common.Hash
	ReceiptBlock    uint64
	Outcome         AttemptOutcome
	Reason          string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// NewLiquidationAttempt creates a pending attempt against the given account.
func NewLiquidationAttempt(target AccountHealth, borrowAsset, collateralAsset common.Address, amount *big.Int, gasLimit, triggerBlock uint64, now time.Time) (*LiquidationAttempt, error) {
	a := &LiquidationAttempt{
		ID:              uuid.New(),
		Target:          target.ID,
		SolvencyMargin:  target.SolvencyMargin,
		DebtValue:       target.DebtValue,
		BorrowAsset:     borrowAsset,
		CollateralAsset: collateralAsset,
		Amount:          amount,
		GasLimit:        gasLimit,
		TriggerBlock:    triggerBlock,
		Outcome:         OutcomePending,
		StartedAt:       now,
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *LiquidationAttempt) validate() error {
	if a.Target == (AccountID{}) {
		return fmt.Errorf("target must not be the zero address")
	}
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if a.GasLimit == 0 {
		return fmt.Errorf("gasLimit must be positive")
	}
	if a.BorrowAsset == (common.Address{}) {
		return fmt.Errorf("borrowAsset must not be the zero address")
	}
	if a.CollateralAsset == (common.Address{}) {
		return fmt.Errorf("collateralAsset must not be the zero address")
	}
	return nil
}

// Finish moves the attempt to a terminal outcome.
func (a *LiquidationAttempt) Finish(outcome AttemptOutcome, reason string, now time.Time) {
	a.Outcome = outcome
	a.Reason = reason
	a.FinishedAt = now
}
