package entity

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestParseAccountID_NormalizesCasing(t *testing.T) {
	inputs := []string{
		"0x2c9C858977F47e62a370e1b9E4A96C4126D77133",
		"0x2c9c858977f47e62a370e1b9e4a96c4126d77133",
		"0X2C9C858977F47E62A370E1B9E4A96C4126D77133",
		"2c9c858977f47e62a370e1b9e4a96c4126d77133",
		"  0x2c9c858977f47e62a370e1b9e4a96c4126d77133 ",
	}

	want, err := ParseAccountID(inputs[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := ParseAccountID(in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != want {
				t.Errorf("got %s, want %s", got.Hex(), want.Hex())
			}
		})
	}

	if want.Hex() != "0x2c9C858977F47e62a370e1b9E4A96C4126D77133" {
		t.Errorf("expected checksum rendering, got %s", want.Hex())
	}
}

func TestParseAccountID_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "0x1234"},
		{"not hex", "0xZZ9C858977F47e62a370e1b9E4A96C4126D77133"},
		{"zero", "0x0000000000000000000000000000000000000000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAccountID(tc.input); err == nil {
				t.Errorf("expected error for %q", tc.input)
			}
		})
	}
}

func TestParseAccountIDs_Dedupes(t *testing.T) {
	ids, err := ParseAccountIDs([]string{
		"0x0c0d117297298687f8582998344682029107067d",
		"0x0C0D117297298687F8582998344682029107067D",
		"",
		"0xe27BFf95221d609206D44089C3517A762951C818",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids, got %d", len(ids))
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("eth_getLogs: %w", ErrTransientNetwork), "transient_network"},
		{fmt.Errorf("account 0x1: %w", ErrEvaluationMiss), "evaluation_miss"},
		{fmt.Errorf("tx 0xabc: %w", ErrExecutionRevert), "execution_revert"},
		{fmt.Errorf("send: %w", ErrSubmission), "submission"},
		{fmt.Errorf("dial: %w", ErrCriticalStartup), "critical_startup"},
		{errors.New("boom"), "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := ErrorKind(tc.err); got != tc.want {
				t.Errorf("ErrorKind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewLiquidationAttempt(t *testing.T) {
	target := NewAccountHealth(testAccount, decimal.Zero, decimal.NewFromInt(100), decimal.RequireFromString("0.9"))
	usdc := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name        string
		amount      *big.Int
		gasLimit    uint64
		borrow      common.Address
		errContains string
	}{
		{name: "valid", amount: big.NewInt(50), gasLimit: 600000, borrow: usdc},
		{name: "nil amount", amount: nil, gasLimit: 600000, borrow: usdc, errContains: "amount must be positive"},
		{name: "zero amount", amount: big.NewInt(0), gasLimit: 600000, borrow: usdc, errContains: "amount must be positive"},
		{name: "zero gas", amount: big.NewInt(50), gasLimit: 0, borrow: usdc, errContains: "gasLimit must be positive"},
		{name: "zero borrow asset", amount: big.NewInt(50), gasLimit: 600000, errContains: "borrowAsset"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewLiquidationAttempt(target, tc.borrow, weth, tc.amount, tc.gasLimit, 42, now)
			if tc.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("expected error containing %q, got %v", tc.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Outcome != OutcomePending {
				t.Errorf("expected pending outcome, got %s", a.Outcome)
			}
			a.Finish(OutcomeReverted, "execution reverted", now.Add(time.Second))
			if !a.Outcome.IsFinal() {
				t.Error("expected final outcome after Finish")
			}
		})
	}
}

func TestStatus_TextRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusScanning, StatusAttacking, StatusStopped} {
		b, _ := s.MarshalText()
		var got Status
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if got != s {
			t.Errorf("got %v, want %v", got, s)
		}
	}
}
