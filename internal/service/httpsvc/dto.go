package httpsvc

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const successMessage = "Order placed successfully."

// placeOrderBody - тело POST /api/orders.
type placeOrderBody struct {
	CustomerID       *int64           `json:"customer_id"`
	CreatedBy        int64            `json:"created_by"`
	OrderTotalAmount *decimal.Decimal `json:"order_total_amount"`
	OrderStatus      string           `json:"order_status,omitempty"`
	Items            []lineItemBody   `json:"items"`
}

type lineItemBody struct {
	VariantID       int64            `json:"variant_id"`
	Quantity        int              `json:"quantity"`
	PriceAtPurchase *decimal.Decimal `json:"price_at_purchase"`
	DiscountRate    decimal.Decimal  `json:"discount_rate"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
}

func (b placeOrderBody) toRequest() (domain.PlaceOrderRequest, error) {
	if b.OrderTotalAmount == nil {
		return domain.PlaceOrderRequest{}, errFieldRequired("order_total_amount")
	}

	items := make([]domain.LineItem, 0, len(b.Items))
	for _, it := range b.Items {
		if it.PriceAtPurchase == nil {
			return domain.PlaceOrderRequest{}, errFieldRequired("price_at_purchase")
		}
		items = append(items, domain.LineItem{
			VariantID:      it.VariantID,
			Quantity:       it.Quantity,
			UnitPrice:      *it.PriceAtPurchase,
			DiscountRate:   it.DiscountRate,
			DiscountAmount: it.DiscountAmount,
		})
	}

	return domain.PlaceOrderRequest{
		CustomerID:    b.CustomerID,
		Items:         items,
		DeclaredTotal: *b.OrderTotalAmount,
		Status:        domain.OrderStatus(b.OrderStatus),
		ActingStaffID: b.CreatedBy,
	}, nil
}

type envelope struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type orderDTO struct {
	OrderID          int64          `json:"order_id"`
	CustomerID       *int64         `json:"customer_id"`
	TotalItemsCount  int            `json:"total_items_count"`
	TotalOrderAmount json.Number    `json:"total_order_amount"`
	OrderStatus      string         `json:"order_status"`
	OrderDate        time.Time      `json:"order_date"`
	CreatedBy        int64          `json:"created_by"`
	CreatedDate      time.Time      `json:"created_date"`
	UpdatedBy        *int64         `json:"updated_by"`
	UpdatedDate      *time.Time     `json:"updated_date"`
	OrderItems       []orderItemDTO `json:"order_items"`
}

type orderItemDTO struct {
	OrderItemID     int64       `json:"order_item_id"`
	OrderID         int64       `json:"order_id"`
	VariantID       int64       `json:"variant_id"`
	Quantity        int         `json:"quantity"`
	PriceAtPurchase json.Number `json:"price_at_purchase"`
	DiscountRate    json.Number `json:"discount_rate"`
	DiscountAmount  json.Number `json:"discount_amount"`
	CreatedBy       int64       `json:"created_by"`
	CreatedDate     time.Time   `json:"created_date"`
	UpdatedBy       *int64      `json:"updated_by"`
	UpdatedDate     *time.Time  `json:"updated_date"`
}

type inventoryDTO struct {
	VariantID      int64     `json:"variant_id"`
	Quantity       int       `json:"quantity"`
	WarehouseStock int       `json:"warehouse_stock"`
	ShopStock      int       `json:"shop_stock"`
	ReorderLevel   int       `json:"reorder_level"`
	LowStock       bool      `json:"low_stock"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type movementDTO struct {
	MovementID    int64     `json:"movement_id"`
	VariantID     int64     `json:"variant_id"`
	OrderID       int64     `json:"order_id"`
	Delta         int       `json:"delta"`
	QuantityAfter int       `json:"quantity_after"`
	Reason        string    `json:"reason"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func toOrderDTO(o domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemDTO{
			OrderItemID:     it.ID,
			OrderID:         it.OrderID,
			VariantID:       it.VariantID,
			Quantity:        it.Quantity,
			PriceAtPurchase: money(it.PriceAtPurchase),
			DiscountRate:    money(it.DiscountRate),
			DiscountAmount:  money(it.DiscountAmount),
			CreatedBy:       it.CreatedBy,
			CreatedDate:     it.CreatedAt,
			UpdatedBy:       it.UpdatedBy,
			UpdatedDate:     it.UpdatedAt,
		})
	}
	return orderDTO{
		OrderID:          o.ID,
		CustomerID:       o.CustomerID,
		TotalItemsCount:  o.ItemsCount,
		TotalOrderAmount: money(o.TotalAmount),
		OrderStatus:      string(o.Status),
		OrderDate:        o.OrderDate,
		CreatedBy:        o.CreatedBy,
		CreatedDate:      o.CreatedAt,
		UpdatedBy:        o.UpdatedBy,
		UpdatedDate:      o.UpdatedAt,
		OrderItems:       items,
	}
}

func toInventoryDTO(rec domain.InventoryRecord) inventoryDTO {
	return inventoryDTO{
		VariantID:      rec.VariantID,
		Quantity:       rec.Quantity,
		WarehouseStock: rec.WarehouseStock,
		ShopStock:      rec.ShopStock,
		ReorderLevel:   rec.ReorderLevel,
		LowStock:       rec.LowStock(),
		UpdatedAt:      rec.UpdatedAt,
	}
}

func toMovementDTO(m domain.StockMovement) movementDTO {
	return movementDTO{
		MovementID:    m.ID,
		VariantID:     m.VariantID,
		OrderID:       m.OrderID,
		Delta:         m.Delta,
		QuantityAfter: m.QuantityAfter,
		Reason:        m.Reason,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
	}
}
