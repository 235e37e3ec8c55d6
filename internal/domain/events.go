package domain

// Типы агрегатов и событий transactional outbox.
const (
	AggregateOrder     = "order"
	AggregateInventory = "inventory"

	EventOrderPlaced       = "order.placed"
	EventInventoryLowStock = "inventory.low_stock"
)
