package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/service/placement"
)

func seedPlacementFixture(t *testing.T, store *Store) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.UpsertCustomer(ctx, domain.Customer{
		ID:                 1,
		Name:               "Ivan Petrov",
		MobileNumber:       "+70000000001",
		Email:              "ivan@example.com",
		OutstandingBalance: decimal.Zero,
	}))
	require.NoError(t, store.UpsertVariant(ctx, domain.ProductVariant{ID: 1, ProductID: 1, SKU: "TEE-S", Price: decimal.RequireFromString("10.00")}))
	require.NoError(t, store.UpsertVariant(ctx, domain.ProductVariant{ID: 2, ProductID: 1, SKU: "TEE-M", Price: decimal.RequireFromString("12.50")}))
	require.NoError(t, store.UpsertInventory(ctx, domain.InventoryRecord{VariantID: 1, Quantity: 10, WarehouseStock: 6, ShopStock: 4, ReorderLevel: 2}))
	require.NoError(t, store.UpsertInventory(ctx, domain.InventoryRecord{VariantID: 2, Quantity: 5, WarehouseStock: 5, ShopStock: 0, ReorderLevel: 3}))
}

func placementRequest(customerID int64, items ...domain.LineItem) domain.PlaceOrderRequest {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return domain.PlaceOrderRequest{
		CustomerID:    &customerID,
		Items:         items,
		DeclaredTotal: total,
		ActingStaffID: 7,
	}
}

func TestUnitOfWork_PostgresPlaceOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedPlacementFixture(t, store)

	coordinator := placement.NewCoordinator(NewUnitOfWork(store, 0))
	order, err := coordinator.PlaceOrder(context.Background(), placementRequest(1,
		domain.LineItem{VariantID: 1, Quantity: 6, UnitPrice: decimal.RequireFromString("10.00")},
		domain.LineItem{VariantID: 2, Quantity: 3, UnitPrice: decimal.RequireFromString("12.50")},
	))
	require.NoError(t, err)
	require.NotZero(t, order.ID)
	require.Len(t, order.Items, 2)

	queries := NewQueryRepository(store)
	ctx := context.Background()

	stored, err := queries.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
	require.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("97.50")), "total %s", stored.TotalAmount)
	require.Len(t, stored.Items, 2)

	inv, err := queries.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 4, inv.Quantity)
	require.Equal(t, 0, inv.ShopStock)
	require.Equal(t, 4, inv.WarehouseStock)

	movements, err := queries.ListMovements(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, -3, movements[0].Delta)
	require.Equal(t, 2, movements[0].QuantityAfter)

	var balance decimal.Decimal
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT outstanding_balance FROM customers WHERE customer_id = 1`).Scan(&balance))
	require.True(t, balance.Equal(decimal.RequireFromString("97.50")), "balance %s", balance)

	pending, err := NewOutboxRepository(store).PullPending(10)
	require.NoError(t, err)
	types := make([]string, 0, len(pending))
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	require.Contains(t, types, domain.EventOrderPlaced)
	require.Contains(t, types, domain.EventInventoryLowStock)

	byCustomer, err := queries.ListByCustomer(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, byCustomer, 1)
	require.Equal(t, order.ID, byCustomer[0].ID)
}

func TestUnitOfWork_PostgresInsufficientStockLeavesNoTrace(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedPlacementFixture(t, store)

	coordinator := placement.NewCoordinator(NewUnitOfWork(store, 0))
	_, err := coordinator.PlaceOrder(context.Background(), placementRequest(1,
		domain.LineItem{VariantID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		domain.LineItem{VariantID: 2, Quantity: 6, UnitPrice: decimal.RequireFromString("12.50")},
	))
	require.True(t, domain.IsInsufficientStock(err), "got %v", err)

	ctx := context.Background()
	var orders int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&orders))
	require.Zero(t, orders)

	inv, err := NewQueryRepository(store).GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 10, inv.Quantity)
}

func TestUnitOfWork_PostgresNotFound(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedPlacementFixture(t, store)

	coordinator := placement.NewCoordinator(NewUnitOfWork(store, 0))

	_, err := coordinator.PlaceOrder(context.Background(), placementRequest(404,
		domain.LineItem{VariantID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	))
	require.True(t, domain.IsNotFound(err), "got %v", err)

	_, err = coordinator.PlaceOrder(context.Background(), placementRequest(1,
		domain.LineItem{VariantID: 99, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	))
	require.True(t, domain.IsNotFound(err), "got %v", err)

	_, err = NewQueryRepository(store).Get(context.Background(), 12345)
	require.True(t, domain.IsNotFound(err), "got %v", err)
}

func TestUnitOfWork_PostgresDecrementBelowZeroIsConstraintViolation(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedPlacementFixture(t, store)

	tx, err := NewUnitOfWork(store, 0).Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Inventory().Decrement(context.Background(), 2, 6)
	require.True(t, domain.IsConstraintViolation(err), "got %v", err)
}

func TestUnitOfWork_PostgresConcurrentPlacementsNeverOversell(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedPlacementFixture(t, store)

	coordinator := placement.NewCoordinator(NewUnitOfWork(store, 5*time.Second))

	const workers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coordinator.PlaceOrder(context.Background(), placementRequest(1,
				domain.LineItem{VariantID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
			))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case domain.IsInsufficientStock(err):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, placed)
	require.Equal(t, workers-10, rejected)

	inv, err := NewQueryRepository(store).GetInventory(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, inv.Quantity)

	var balance decimal.Decimal
	require.NoError(t, store.DB().QueryRowContext(context.Background(),
		`SELECT outstanding_balance FROM customers WHERE customer_id = 1`).Scan(&balance))
	require.True(t, balance.Equal(decimal.RequireFromString("100.00")), "balance %s", balance)
}
