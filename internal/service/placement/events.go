package placement

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// OrderPlacedEvent - полезная нагрузка события order.placed.
type OrderPlacedEvent struct {
	OrderID     int64            `json:"order_id"`
	CustomerID  *int64           `json:"customer_id,omitempty"`
	Status      string           `json:"order_status"`
	ItemsCount  int              `json:"total_items_count"`
	TotalAmount decimal.Decimal  `json:"total_order_amount"`
	CreatedBy   int64            `json:"created_by"`
	Items       []PlacedLineItem `json:"order_items"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// PlacedLineItem - позиция заказа в событии.
type PlacedLineItem struct {
	VariantID       int64           `json:"variant_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// LowStockEvent - полезная нагрузка события inventory.low_stock.
type LowStockEvent struct {
	VariantID      int64     `json:"variant_id"`
	Quantity       int       `json:"quantity"`
	ShopStock      int       `json:"shop_stock"`
	WarehouseStock int       `json:"warehouse_stock"`
	ReorderLevel   int       `json:"reorder_level"`
	OrderID        int64     `json:"order_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func orderPlacedMessage(order domain.Order, at time.Time) (domain.OutboxMessage, error) {
	event := OrderPlacedEvent{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		ItemsCount:  order.ItemsCount,
		TotalAmount: order.TotalAmount,
		CreatedBy:   order.CreatedBy,
		Items:       make([]PlacedLineItem, 0, len(order.Items)),
		OccurredAt:  at,
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, PlacedLineItem{
			VariantID:       item.VariantID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   strconv.FormatInt(order.ID, 10),
		EventType:     domain.EventOrderPlaced,
		Payload:       payload,
		CreatedAt:     at,
	}, nil
}

func lowStockMessage(rec domain.InventoryRecord, orderID int64, at time.Time) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(LowStockEvent{
		VariantID:      rec.VariantID,
		Quantity:       rec.Quantity,
		ShopStock:      rec.ShopStock,
		WarehouseStock: rec.WarehouseStock,
		ReorderLevel:   rec.ReorderLevel,
		OrderID:        orderID,
		OccurredAt:     at,
	})
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return domain.OutboxMessage{
		AggregateType: domain.AggregateInventory,
		AggregateID:   strconv.FormatInt(rec.VariantID, 10),
		EventType:     domain.EventInventoryLowStock,
		Payload:       payload,
		CreatedAt:     at,
	}, nil
}
