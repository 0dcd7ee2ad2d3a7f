//go:build integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// setupRedis creates a Redis container and returns a connected Client.
func setupRedis(t *testing.T) (*Client, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	client, err := NewClient(Config{
		Addr:      fmt.Sprintf("%s:%s", host, port.Port()),
		KeyPrefix: "test",
	}, nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := client.Ping(ctx); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cleanup := func() {
		client.Close()
		container.Terminate(ctx)
	}
	return client, cleanup
}

// --- Test: StatusSink ---

func TestStatusSink_PublishStoresAndAnnounces(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	sink, err := NewStatusSink(client)
	if err != nil {
		t.Fatal(err)
	}

	pubsub := client.rdb.Subscribe(ctx, client.StatusChannel())
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	snapshot := entity.Snapshot{
		Status:         entity.StatusAttacking,
		LastBlock:      123456,
		CandidateCount: 42,
		QueueLength:    2,
		GasLimit:       600000,
		ActiveTargets: []entity.TargetSummary{{
			Account:        "0x2c9C858977F47e62a370e1b9E4A96C4126D77133",
			SolvencyMargin: decimal.RequireFromString("0.9731"),
			DebtValue:      decimal.RequireFromString("1520.44"),
		}},
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := sink.Publish(ctx, snapshot); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg, err := pubsub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if msg.Payload == "" {
		t.Error("expected a non-empty payload")
	}

	got, err := sink.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored snapshot, got nil")
	}
	if got.Status != entity.StatusAttacking || got.LastBlock != 123456 || got.CandidateCount != 42 {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if len(got.ActiveTargets) != 1 || !got.ActiveTargets[0].SolvencyMargin.Equal(decimal.RequireFromString("0.9731")) {
		t.Errorf("unexpected targets %+v", got.ActiveTargets)
	}

	ttl, err := client.rdb.TTL(ctx, client.statusKey()).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("expected status key with TTL, got %v (%v)", ttl, err)
	}
}

func TestStatusSink_LatestEmpty(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	sink, _ := NewStatusSink(client)
	got, err := sink.Latest(context.Background())
	if err != nil || got != nil {
		t.Errorf("Latest() = %v, %v; want nil, nil", got, err)
	}
}

// --- Test: ExecutionLock ---

func TestExecutionLock_SingleHolder(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	a, _ := NewExecutionLock(client)
	b, _ := NewExecutionLock(client)

	release, err := a.TryAcquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !b.Held(ctx) {
		t.Error("lock should be visible to other instances")
	}
	if _, err := b.TryAcquire(ctx, time.Minute); !errors.Is(err, entity.ErrLockHeld) {
		t.Errorf("second TryAcquire error = %v, want ErrLockHeld", err)
	}

	release()
	release()
	if a.Held(ctx) {
		t.Error("lock should be free after release")
	}

	releaseB, err := b.TryAcquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire after release failed: %v", err)
	}
	defer releaseB()
}

func TestExecutionLock_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	lock, _ := NewExecutionLock(client)
	stale, err := lock.TryAcquire(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	fresh, err := lock.TryAcquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire after expiry failed: %v", err)
	}
	defer fresh()

	stale()
	if !lock.Held(ctx) {
		t.Error("stale release must not free the new owner's lock")
	}
}
