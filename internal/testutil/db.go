package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/stl-liquidator/db/migrations"
	"github.com/archon-research/stl-liquidator/db/migrator"
	pkgtestutil "github.com/archon-research/stl-liquidator/internal/pkg/testutil"
)

const (
	pgUser     = "liquidator"
	pgPassword = "liquidator"
	pgDatabase = "liquidator"
)

// DiscardLogger returns a logger for code under test whose output is not asserted on.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartPostgres runs an empty attempt-history database and returns its DSN.
// The schema is left unapplied so migrator tests start from nothing.
func StartPostgres(t *testing.T) (dsn string, cleanup func()) {
	t.Helper()
	ctx := context.Background()

	// postgres logs readiness twice: once for the init server, once for the real one.
	ready := wait.ForAll(
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
		wait.ForListeningPort("5432/tcp").WithStartupTimeout(time.Minute),
	)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:18-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDatabase,
			},
			WaitingFor: ready,
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("postgres endpoint: %v", err)
	}

	dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, endpoint, pgDatabase)
	return dsn, func() { _ = container.Terminate(ctx) }
}

// ConnectPool opens a pool and waits up to three seconds for the first ping.
func ConnectPool(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ok := pkgtestutil.WaitFor(t, 3*time.Second, 100*time.Millisecond, func() bool {
		return pool.Ping(ctx) == nil
	})
	if !ok {
		pool.Close()
		t.Fatal("timed out waiting for postgres")
	}
	return pool
}

// RunMigrations applies the liquidation_attempts schema.
func RunMigrations(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if err := migrator.New(pool, migrations.FS, DiscardLogger()).ApplyAll(context.Background()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
}

// SetupPostgres returns a pool on a migrated attempt-history database.
func SetupPostgres(t *testing.T) (pool *pgxpool.Pool, cleanup func()) {
	t.Helper()
	dsn, stop := StartPostgres(t)
	pool = ConnectPool(t, dsn)
	RunMigrations(t, pool)
	return pool, func() {
		pool.Close()
		stop()
	}
}
