package domain

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MaxLineQuantity ограничивает количество в одной строке заказа.
const MaxLineQuantity = 1_000_000

// LineItem - одна строка входящего заказа.
type LineItem struct {
	VariantID      int64
	Quantity       int
	UnitPrice      decimal.Decimal
	DiscountRate   decimal.Decimal
	DiscountAmount decimal.Decimal
}

// PlaceOrderRequest - типизированный вход операции размещения заказа.
type PlaceOrderRequest struct {
	// CustomerID == nil означает внутренний заказ без клиента.
	CustomerID    *int64
	Items         []LineItem
	DeclaredTotal decimal.Decimal
	// Status пустой означает OrderStatusPending.
	Status        OrderStatus
	ActingStaffID int64
}

// ValidateInvariants проверяет форму запроса до обращения к хранилищу.
func (r PlaceOrderRequest) ValidateInvariants() []error {
	var errs []error

	if len(r.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if r.CustomerID != nil && *r.CustomerID <= 0 {
		errs = append(errs, ErrCustomerIDInvalid)
	}
	if r.ActingStaffID <= 0 {
		errs = append(errs, ErrCreatedByRequired)
	}
	if r.DeclaredTotal.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	if r.Status != "" && !r.Status.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrOrderStatusInvalid, r.Status))
	}

	for i, item := range r.Items {
		if item.VariantID <= 0 {
			errs = append(errs, fmt.Errorf("items[%d]: %w", i, ErrVariantIDInvalid))
		}
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("items[%d]: %w", i, ErrItemQtyInvalid))
		}
		if item.Quantity > MaxLineQuantity {
			errs = append(errs, fmt.Errorf("items[%d]: %w", i, ErrItemQtyTooLarge))
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("items[%d]: %w", i, ErrItemPriceInvalid))
		}
		if item.DiscountRate.IsNegative() || item.DiscountRate.GreaterThan(hundred) {
			errs = append(errs, fmt.Errorf("items[%d]: %w", i, ErrDiscountRateInvalid))
		}
		if item.DiscountAmount.IsNegative() {
			errs = append(errs, fmt.Errorf("items[%d]: %w", i, ErrDiscountAmountInvalid))
		}
	}

	return errs
}

// EffectiveStatus возвращает статус создаваемого заказа.
func (r PlaceOrderRequest) EffectiveStatus() OrderStatus {
	if r.Status == "" {
		return OrderStatusPending
	}
	return r.Status
}

// VariantDemand - суммарный спрос по одному варианту.
type VariantDemand struct {
	VariantID int64
	Quantity  int
}

// Demand суммирует количество по вариантам и сортирует по возрастанию VariantID.
// Порядок задаёт глобальный порядок захвата блокировок.
func (r PlaceOrderRequest) Demand() []VariantDemand {
	totals := make(map[int64]int, len(r.Items))
	for _, item := range r.Items {
		// Сумма насыщается: переполнение не должно выглядеть как малый спрос.
		sum := totals[item.VariantID]
		if item.Quantity > math.MaxInt-sum {
			totals[item.VariantID] = math.MaxInt
			continue
		}
		totals[item.VariantID] = sum + item.Quantity
	}

	demand := make([]VariantDemand, 0, len(totals))
	for id, qty := range totals {
		demand = append(demand, VariantDemand{VariantID: id, Quantity: qty})
	}
	sort.Slice(demand, func(i, j int) bool { return demand[i].VariantID < demand[j].VariantID })
	return demand
}
