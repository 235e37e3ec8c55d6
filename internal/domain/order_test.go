package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

func validOrder() domain.Order {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	customer := int64(1)
	return domain.Order{
		ID:          1,
		CustomerID:  &customer,
		ItemsCount:  1,
		TotalAmount: decimal.RequireFromString("50.00"),
		Status:      domain.OrderStatusPending,
		OrderDate:   at,
		CreatedBy:   7,
		CreatedAt:   at,
		Items: []domain.OrderItem{{
			ID: 1, OrderID: 1, VariantID: 10, Quantity: 5,
			PriceAtPurchase: decimal.RequireFromString("10.00"),
			CreatedBy:       7,
			CreatedAt:       at,
		}},
	}
}

func TestOrder_ValidateInvariants(t *testing.T) {
	valid := validOrder()
	require.Empty(t, valid.ValidateInvariants())

	staff := validOrder()
	staff.CustomerID = nil
	require.Empty(t, staff.ValidateInvariants(), "staff order has no customer")

	broken := map[string]func(o *domain.Order){
		"negative total": func(o *domain.Order) { o.TotalAmount = decimal.NewFromInt(-1) },
		"no items":       func(o *domain.Order) { o.Items = nil },
		"zero quantity":  func(o *domain.Order) { o.Items[0].Quantity = 0 },
		"negative price": func(o *domain.Order) { o.Items[0].PriceAtPurchase = decimal.NewFromInt(-5) },
		"unknown status": func(o *domain.Order) { o.Status = "Shipped" },
		"missing author": func(o *domain.Order) { o.CreatedBy = 0 },
	}
	for name, mutate := range broken {
		t.Run(name, func(t *testing.T) {
			o := validOrder()
			mutate(&o)
			assert.NotEmpty(t, o.ValidateInvariants())
		})
	}
}

func TestOrderStatus_Valid(t *testing.T) {
	for _, s := range []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusProcessing,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
	} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, domain.OrderStatus("pending").Valid(), "case sensitive")
	assert.False(t, domain.OrderStatus("").Valid())
}

func TestOrder_CheckWritable(t *testing.T) {
	o := validOrder()
	require.NoError(t, o.CheckWritable())

	o.Items = nil
	err := o.CheckWritable()
	require.True(t, domain.IsConstraintViolation(err), "got %v", err)
	require.ErrorIs(t, err, domain.ErrItemsRequired)
}
