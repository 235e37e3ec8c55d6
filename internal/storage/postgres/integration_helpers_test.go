package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// integrationDSNEnv указывает на тестовую базу. Без неё интеграционные тесты пропускаются.
const integrationDSNEnv = "BACKOFFICE_POSTGRES_TEST_DSN"

// connectForIntegration подключается к тестовой базе без миграций.
func connectForIntegration(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration tests are skipped in -short mode")
	}
	dsn := os.Getenv(integrationDSNEnv)
	if dsn == "" {
		t.Skipf("%s is not set", integrationDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is unreachable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// openPostgresStoreForIntegrationTest возвращает мигрированную пустую базу.
func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()
	store := connectForIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, store.EnsureSchema(ctx))
	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE idempotency_keys, outbox_messages, stock_movements, order_items,
		         orders, inventory, product_variants, customers
		RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return store
}
