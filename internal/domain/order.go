package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа в бэк-офисе.
type OrderStatus string

const (
	// OrderStatusPending - заказ создан и ожидает обработки.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusProcessing - заказ собирается.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusCompleted - заказ выдан клиенту.
	OrderStatusCompleted OrderStatus = "Completed"
	// OrderStatusCancelled - заказ отменён.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        int64
	OrderID   int64
	VariantID int64
	Quantity  int
	// PriceAtPurchase - снимок цены на момент заказа, из каталога не пересчитывается.
	PriceAtPurchase decimal.Decimal
	// DiscountRate - скидка в процентах (0..100).
	DiscountRate   decimal.Decimal
	DiscountAmount decimal.Decimal
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedBy      *int64
	UpdatedAt      *time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID int64
	// CustomerID пуст для внутренних заказов сотрудников.
	CustomerID  *int64
	ItemsCount  int
	TotalAmount decimal.Decimal
	Status      OrderStatus
	OrderDate   time.Time
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedBy   *int64
	UpdatedAt   *time.Time
	Items       []OrderItem
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if o.CreatedBy <= 0 {
		errs = append(errs, ErrCreatedByRequired)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceAtPurchase.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// CheckWritable - проверка заказа перед записью в хранилище. Нарушение
// инвариантов классифицируется как ErrConstraintViolation.
func (o *Order) CheckWritable() error {
	errs := o.ValidateInvariants()
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: order: %w", ErrConstraintViolation, errors.Join(errs...))
}
