package app

import (
	"context"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/backoffice/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "memory-storage"))
	require.NoError(t, err)
	defer func() { require.NoError(t, deps.closeFn()) }()

	require.NotNil(t, deps.uow)
	require.NotNil(t, deps.orders)
	require.NotNil(t, deps.inventory)
	require.NotNil(t, deps.outboxRepo)
	require.NotNil(t, deps.idempotencyRepo)
	require.Contains(t, deps.checkers, "storage")

	rec, err := deps.inventory.GetInventory(context.Background(), 1)
	require.NoError(t, err, "demo catalog should be seeded by default")
	require.Positive(t, rec.Quantity)
}

func TestInitRuntimeDependencies_MemoryWithoutSeed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SeedDemo = false
	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "memory-empty"))
	require.NoError(t, err)

	_, err = deps.inventory.GetInventory(context.Background(), 1)
	require.Error(t, err)
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-missing-dsn"))
	require.ErrorContains(t, err, "postgres dsn is required")
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StorageDriver = "sqlite"
	_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "unsupported-driver"))
	require.ErrorContains(t, err, "unsupported storage driver")
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.IdempotencyBackend = IdempotencyBackendRedis
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "redis-down"))
	require.ErrorContains(t, err, "open redis idempotency backend")
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BACKOFFICE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("BACKOFFICE_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer func() { _ = deps.closeFn() }()

	require.NotNil(t, deps.uow)
	require.NotNil(t, deps.idempotencyRepo)
	check := deps.checkers["storage"].Check(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, check.Status)
}
