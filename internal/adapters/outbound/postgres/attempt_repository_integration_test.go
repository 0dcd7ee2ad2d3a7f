//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/testutil"
)

func TestAttemptRepository_SaveAndUpdate(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	repo, err := NewAttemptRepository(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewAttemptRepository failed: %v", err)
	}

	a := testAttempt()
	if err := repo.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("SaveAttempt (pending) failed: %v", err)
	}

	a.TxHash = common.HexToHash("0xfeed")
	a.ReceiptBlock = 1002
	a.Finish(entity.OutcomeReverted, "execution reverted", a.StartedAt.Add(6*time.Second))
	if err := repo.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("SaveAttempt (final) failed: %v", err)
	}

	got, err := repo.RecentAttempts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAttempts failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 attempt after upsert, got %d", len(got))
	}
	stored := got[0]
	if stored.Outcome != entity.OutcomeReverted || stored.Reason != "execution reverted" {
		t.Errorf("outcome not updated: %s %q", stored.Outcome, stored.Reason)
	}
	if stored.TxHash != a.TxHash || stored.ReceiptBlock != 1002 {
		t.Errorf("tx not updated: %s block %d", stored.TxHash.Hex(), stored.ReceiptBlock)
	}
	if !stored.DebtValue.Equal(a.DebtValue) {
		t.Errorf("debt_value = %s, want %s", stored.DebtValue, a.DebtValue)
	}
	if stored.Amount.Cmp(a.Amount) != 0 {
		t.Errorf("amount = %s, want %s", stored.Amount, a.Amount)
	}
	if !stored.FinishedAt.Equal(a.FinishedAt) {
		t.Errorf("finished_at = %v, want %v", stored.FinishedAt, a.FinishedAt)
	}
}

func TestAttemptRepository_RecentAttemptsNewestFirst(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	repo, err := NewAttemptRepository(pool, nil)
	if err != nil {
		t.Fatalf("NewAttemptRepository failed: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a := testAttempt()
		a.ID = uuid.New()
		a.TriggerBlock = uint64(1000 + i)
		a.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt %d failed: %v", i, err)
		}
	}

	got, err := repo.RecentAttempts(ctx, 3)
	if err != nil {
		t.Fatalf("RecentAttempts failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(got))
	}
	for i, want := range []uint64{1004, 1003, 1002} {
		if got[i].TriggerBlock != want {
			t.Errorf("got[%d].TriggerBlock = %d, want %d", i, got[i].TriggerBlock, want)
		}
	}

	none, err := repo.RecentAttempts(ctx, 0)
	if err != nil || none != nil {
		t.Errorf("RecentAttempts(0) = %v, %v; want nil, nil", none, err)
	}
}
