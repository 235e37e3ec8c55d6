package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
)

func newSeededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.PutCustomer(domain.Customer{ID: 1, Name: "Alice", OutstandingBalance: decimal.Zero})
	store.PutVariant(domain.ProductVariant{ID: 10, ProductID: 1, SKU: "SKU-10", Price: decimal.NewFromInt(5)})
	store.PutInventory(domain.InventoryRecord{VariantID: 10, Quantity: 5, ShopStock: 2, WarehouseStock: 3, ReorderLevel: 1})
	return store
}

func TestStore_CommitAppliesStagedWrites(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	rec, err := tx.Inventory().Decrement(ctx, 10, 3)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Quantity)
	require.NoError(t, tx.Customers().IncreaseBalance(ctx, 1, decimal.RequireFromString("9.99")))

	customerID := int64(1)
	order, err := tx.Orders().Create(ctx, domain.Order{
		CustomerID: &customerID,
		Status:     domain.OrderStatusPending,
		CreatedBy:  7,
		Items:      []domain.OrderItem{{VariantID: 10, Quantity: 3}},
	})
	require.NoError(t, err)
	require.NotZero(t, order.ID)
	require.Equal(t, order.ID, order.Items[0].OrderID)

	// До Commit читатели видят прежнее состояние.
	committed, err := store.GetInventory(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 5, committed.Quantity)
	_, err = store.Get(ctx, order.ID)
	require.True(t, domain.IsNotFound(err))

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	committed, err = store.GetInventory(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, committed.Quantity)
	require.Equal(t, 0, committed.ShopStock)
	require.Equal(t, 2, committed.WarehouseStock, "shop shortfall is drawn from the warehouse")

	customer, err := store.Customer(1)
	require.NoError(t, err)
	require.True(t, customer.OutstandingBalance.Equal(decimal.RequireFromString("9.99")))

	stored, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
}

func TestStore_RollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Inventory().Decrement(ctx, 10, 5)
	require.NoError(t, err)
	require.NoError(t, tx.Customers().IncreaseBalance(ctx, 1, decimal.NewFromInt(25)))
	_, err = tx.Outbox().Enqueue(ctx, domain.OutboxMessage{EventType: "order.placed"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rec, err := store.GetInventory(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 5, rec.Quantity)
	customer, err := store.Customer(1)
	require.NoError(t, err)
	require.True(t, customer.OutstandingBalance.IsZero())
	require.Zero(t, store.OrderCount())

	pending, err := store.Outbox().PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestStore_DecrementNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	ok, available, err := tx.Inventory().CheckAndReserve(ctx, 10, 6)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5, available)

	_, err = tx.Inventory().Decrement(ctx, 10, 6)
	require.True(t, domain.IsConstraintViolation(err))
}

func TestStore_MissingEntities(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Customers().Get(ctx, 99)
	require.True(t, domain.IsNotFound(err))
	require.True(t, domain.IsNotFound(tx.Customers().IncreaseBalance(ctx, 99, decimal.NewFromInt(1))))
	_, err = tx.Variants().Get(ctx, 99)
	require.True(t, domain.IsNotFound(err))
	_, err = tx.Inventory().GetByVariant(ctx, 99)
	require.True(t, domain.IsNotFound(err))
}

func TestStore_BeginWaitsForRunningTransaction(t *testing.T) {
	store := newSeededStore(t)

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = store.Begin(ctx)
	require.True(t, domain.IsOperational(err), "second writer must time out while first holds the store, got %v", err)

	require.NoError(t, tx.Rollback())

	next, err := store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, next.Rollback())
}

func TestStore_MovementsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, tx.Movements().Append(ctx, domain.StockMovement{
			VariantID:     10,
			OrderID:       int64(i),
			Delta:         -1,
			QuantityAfter: 5 - i,
			Reason:        domain.MovementReasonOrderPlaced,
		}))
	}
	require.NoError(t, tx.Commit())

	movements, err := store.ListMovements(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, int64(3), movements[0].OrderID)
	require.Equal(t, int64(2), movements[1].OrderID)
}

func TestStore_CreateRejectsBrokenOrder(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Orders().Create(ctx, domain.Order{
		Status:    domain.OrderStatusPending,
		CreatedBy: 7,
		Items:     []domain.OrderItem{{VariantID: 10, Quantity: 0}},
	})
	require.True(t, domain.IsConstraintViolation(err), "got %v", err)
	require.NoError(t, tx.Commit())
	require.Zero(t, store.OrderCount())
}
