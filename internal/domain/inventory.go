package domain

import (
	"fmt"
	"time"
)

// InventoryRecord - складские счётчики одного варианта.
type InventoryRecord struct {
	VariantID int64
	// Quantity - продаваемый остаток, никогда не уходит в минус.
	Quantity       int
	WarehouseStock int
	ShopStock      int
	ReorderLevel   int
	UpdatedAt      time.Time
}

// Decrement списывает qty единиц: сначала с торгового зала, недостачу добирает со склада.
// Оба счётчика зажаты снизу нулём; Quantity обязан остаться неотрицательным.
func (r InventoryRecord) Decrement(qty int) (InventoryRecord, error) {
	if qty <= 0 {
		return r, ErrItemQtyInvalid
	}
	if r.Quantity-qty < 0 {
		return r, fmt.Errorf("%w: inventory quantity for variant %d would become %d",
			ErrConstraintViolation, r.VariantID, r.Quantity-qty)
	}

	next := r
	next.Quantity -= qty

	fromShop := min(next.ShopStock, qty)
	next.ShopStock -= fromShop
	next.WarehouseStock = max(next.WarehouseStock-(qty-fromShop), 0)

	return next, nil
}

// LowStock сообщает, что остаток опустился до уровня дозаказа.
func (r InventoryRecord) LowStock() bool {
	return r.Quantity <= r.ReorderLevel
}

// Причины движения остатков.
const (
	MovementReasonOrderPlaced = "order_placed"
)

// StockMovement - запись журнала движения остатков.
type StockMovement struct {
	ID            int64
	VariantID     int64
	OrderID       int64
	Delta         int
	QuantityAfter int
	Reason        string
	CreatedBy     int64
	CreatedAt     time.Time
}
