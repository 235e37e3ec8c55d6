package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const defaultListLimit = 100

// QueryRepository читает зафиксированные заказы, остатки и журнал движения.
type QueryRepository struct {
	db *sqlx.DB
}

// NewQueryRepository создаёт sqlx-обёртку над пулом Store.
func NewQueryRepository(store *Store) *QueryRepository {
	return &QueryRepository{db: store.db}
}

type orderRow struct {
	ID          int64           `db:"order_id"`
	CustomerID  sql.NullInt64   `db:"customer_id"`
	ItemsCount  int             `db:"total_items_count"`
	TotalAmount decimal.Decimal `db:"total_order_amount"`
	Status      string          `db:"order_status"`
	OrderDate   time.Time       `db:"order_date"`
	CreatedBy   int64           `db:"created_by"`
	CreatedAt   time.Time       `db:"created_date"`
	UpdatedBy   sql.NullInt64   `db:"updated_by"`
	UpdatedAt   sql.NullTime    `db:"updated_date"`
}

type orderItemRow struct {
	ID              int64           `db:"order_item_id"`
	OrderID         int64           `db:"order_id"`
	VariantID       int64           `db:"variant_id"`
	Quantity        int             `db:"quantity"`
	PriceAtPurchase decimal.Decimal `db:"price_at_purchase"`
	DiscountRate    decimal.Decimal `db:"discount_rate"`
	DiscountAmount  decimal.Decimal `db:"discount_amount"`
	CreatedBy       int64           `db:"created_by"`
	CreatedAt       time.Time       `db:"created_date"`
	UpdatedBy       sql.NullInt64   `db:"updated_by"`
	UpdatedAt       sql.NullTime    `db:"updated_date"`
}

type inventoryRow struct {
	VariantID      int64     `db:"variant_id"`
	Quantity       int       `db:"quantity"`
	WarehouseStock int       `db:"warehouse_stock"`
	ShopStock      int       `db:"shop_stock"`
	ReorderLevel   int       `db:"reorder_level"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type movementRow struct {
	ID            int64         `db:"movement_id"`
	VariantID     int64         `db:"variant_id"`
	OrderID       sql.NullInt64 `db:"order_id"`
	Delta         int           `db:"delta"`
	QuantityAfter int           `db:"quantity_after"`
	Reason        string        `db:"reason"`
	CreatedBy     int64         `db:"created_by"`
	CreatedAt     time.Time     `db:"created_at"`
}

const (
	orderSelect = `
		SELECT order_id, customer_id, total_items_count, total_order_amount, order_status,
		       order_date, created_by, created_date, updated_by, updated_date
		FROM orders`
	orderItemSelect = `
		SELECT order_item_id, order_id, variant_id, quantity, price_at_purchase, discount_rate,
		       discount_amount, created_by, created_date, updated_by, updated_date
		FROM order_items`
)

// Get возвращает заказ с позициями.
func (r *QueryRepository) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row orderRow
	if err := r.db.GetContext(ctx, &row, orderSelect+` WHERE order_id = $1`, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.NewNotFound(domain.EntityOrder, orderID)
		}
		return domain.Order{}, classify("select order", err)
	}

	var items []orderItemRow
	if err := r.db.SelectContext(ctx, &items, orderItemSelect+` WHERE order_id = $1 ORDER BY order_item_id`, orderID); err != nil {
		return domain.Order{}, classify("select order items", err)
	}

	order := row.toDomain()
	for _, item := range items {
		order.Items = append(order.Items, item.toDomain())
	}
	return order, nil
}

// ListByCustomer возвращает заказы клиента, новые первыми.
func (r *QueryRepository) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows,
		orderSelect+` WHERE customer_id = $1 ORDER BY created_date DESC, order_id DESC LIMIT $2`,
		customerID, limit,
	); err != nil {
		return nil, classify("list orders", err)
	}
	if len(rows) == 0 {
		return []domain.Order{}, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	query, args, err := sqlx.In(orderItemSelect+` WHERE order_id IN (?) ORDER BY order_item_id`, ids)
	if err != nil {
		return nil, classify("build order items query", err)
	}
	var items []orderItemRow
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, classify("list order items", err)
	}

	byOrder := make(map[int64][]domain.OrderItem, len(rows))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item.toDomain())
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order := row.toDomain()
		order.Items = byOrder[row.ID]
		orders = append(orders, order)
	}
	return orders, nil
}

// GetInventory возвращает текущий остаток варианта.
func (r *QueryRepository) GetInventory(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row inventoryRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+inventoryColumns+` FROM inventory WHERE variant_id = $1`, variantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.NewNotFound(domain.EntityInventory, variantID)
		}
		return domain.InventoryRecord{}, classify("select inventory", err)
	}
	return domain.InventoryRecord{
		VariantID:      row.VariantID,
		Quantity:       row.Quantity,
		WarehouseStock: row.WarehouseStock,
		ShopStock:      row.ShopStock,
		ReorderLevel:   row.ReorderLevel,
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}

// ListMovements возвращает журнал движения варианта, новые записи первыми.
func (r *QueryRepository) ListMovements(ctx context.Context, variantID int64, limit int) ([]domain.StockMovement, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rows []movementRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT movement_id, variant_id, order_id, delta, quantity_after, reason, created_by, created_at
		FROM stock_movements
		WHERE variant_id = $1
		ORDER BY movement_id DESC
		LIMIT $2
	`, variantID, limit); err != nil {
		return nil, classify("list stock movements", err)
	}

	movements := make([]domain.StockMovement, 0, len(rows))
	for _, row := range rows {
		movements = append(movements, domain.StockMovement{
			ID:            row.ID,
			VariantID:     row.VariantID,
			OrderID:       row.OrderID.Int64,
			Delta:         row.Delta,
			QuantityAfter: row.QuantityAfter,
			Reason:        row.Reason,
			CreatedBy:     row.CreatedBy,
			CreatedAt:     row.CreatedAt.UTC(),
		})
	}
	return movements, nil
}

func (row orderRow) toDomain() domain.Order {
	order := domain.Order{
		ID:          row.ID,
		ItemsCount:  row.ItemsCount,
		TotalAmount: row.TotalAmount,
		Status:      domain.OrderStatus(row.Status),
		OrderDate:   row.OrderDate.UTC(),
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if row.CustomerID.Valid {
		id := row.CustomerID.Int64
		order.CustomerID = &id
	}
	if row.UpdatedBy.Valid {
		by := row.UpdatedBy.Int64
		order.UpdatedBy = &by
	}
	if row.UpdatedAt.Valid {
		at := row.UpdatedAt.Time.UTC()
		order.UpdatedAt = &at
	}
	return order
}

func (row orderItemRow) toDomain() domain.OrderItem {
	item := domain.OrderItem{
		ID:              row.ID,
		OrderID:         row.OrderID,
		VariantID:       row.VariantID,
		Quantity:        row.Quantity,
		PriceAtPurchase: row.PriceAtPurchase,
		DiscountRate:    row.DiscountRate,
		DiscountAmount:  row.DiscountAmount,
		CreatedBy:       row.CreatedBy,
		CreatedAt:       row.CreatedAt.UTC(),
	}
	if row.UpdatedBy.Valid {
		by := row.UpdatedBy.Int64
		item.UpdatedBy = &by
	}
	if row.UpdatedAt.Valid {
		at := row.UpdatedAt.Time.UTC()
		item.UpdatedAt = &at
	}
	return item
}

var (
	_ domain.OrderQueryRepository     = (*QueryRepository)(nil)
	_ domain.InventoryQueryRepository = (*QueryRepository)(nil)
)
