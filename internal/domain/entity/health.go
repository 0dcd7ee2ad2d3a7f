package entity

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Fixed-point precision of the values returned by the pool's account data call.
const (
	BaseCurrencyDecimals = 8
	HealthFactorDecimals = 18
)

var (
	// MaxSolvencyMargin is the clamp applied to every margin. Accounts without
	// debt report an effectively infinite health factor and land here.
	MaxSolvencyMargin = decimal.NewFromInt(100)

	// LiquidationThreshold is the margin below which an account is eligible.
	LiquidationThreshold = decimal.NewFromInt(1)
)

// RawAccountData is the unscaled result of a single account health read.
type RawAccountData struct {
	TotalCollateralBase *big.Int
	TotalDebtBase       *big.Int
	HealthFactor        *big.Int
}

// AccountHealth is a point-in-time solvency reading for one account.
// Values are in the protocol's base currency. It is recomputed each cycle
// and never persisted.
type AccountHealth struct {
	ID              AccountID
	CollateralValue decimal.Decimal
	DebtValue       decimal.Decimal
	SolvencyMargin  decimal.Decimal
}

// NewAccountHealth builds an AccountHealth, clamping the margin to MaxSolvencyMargin.
func NewAccountHealth(id AccountID, collateral, debt, margin decimal.Decimal) AccountHealth {
	if margin.GreaterThan(MaxSolvencyMargin) {
		margin = MaxSolvencyMargin
	}
	return AccountHealth{
		ID:              id,
		CollateralValue: collateral,
		DebtValue:       debt,
		SolvencyMargin:  margin,
	}
}

// Health scales a raw read into an AccountHealth. Nil fields are treated as zero.
func (r RawAccountData) Health(id AccountID) AccountHealth {
	return NewAccountHealth(
		id,
		scaled(r.TotalCollateralBase, BaseCurrencyDecimals),
		scaled(r.TotalDebtBase, BaseCurrencyDecimals),
		scaled(r.HealthFactor, HealthFactorDecimals),
	)
}

func scaled(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// Eligible reports whether the account can be liquidated (margin strictly below 1.0).
func (h AccountHealth) Eligible() bool {
	return h.SolvencyMargin.LessThan(LiquidationThreshold)
}

// InWatchBand reports whether the account is still healthy but its margin is below upper.
func (h AccountHealth) InWatchBand(upper decimal.Decimal) bool {
	return !h.Eligible() && h.SolvencyMargin.LessThan(upper)
}

// EstimatedBonus approximates the liquidation bonus for closing half the debt
// at the given bonus rate (e.g. 0.05).
func (h AccountHealth) EstimatedBonus(rate decimal.Decimal) decimal.Decimal {
	return h.DebtValue.Mul(CloseFactor).Mul(rate)
}

// CloseFactor is the share of outstanding debt repaid by one liquidation.
var CloseFactor = decimal.NewFromFloat(0.5)

// LiquidationAmount converts CloseFactor of the account's base-currency debt into
// integer units of a debt asset with the given decimals, assuming a 1:1 price
// between the asset and the base currency.
func (h AccountHealth) LiquidationAmount(assetDecimals int32) *big.Int {
	return h.DebtValue.Mul(CloseFactor).Shift(assetDecimals).Floor().BigInt()
}
