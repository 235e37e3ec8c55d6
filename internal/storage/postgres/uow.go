package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const defaultLockTimeout = 2 * time.Second

// UnitOfWork открывает READ COMMITTED транзакции с пессимистическими блокировками.
// Клиент блокируется первым, складские записи - по возрастанию variant_id.
type UnitOfWork struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewUnitOfWork создаёт UnitOfWork. lockTimeout<=0 означает значение по умолчанию.
func NewUnitOfWork(store *Store, lockTimeout time.Duration) *UnitOfWork {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &UnitOfWork{db: store.db, lockTimeout: lockTimeout}
}

// Begin начинает транзакцию и ограничивает ожидание блокировок.
func (u *UnitOfWork) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := u.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classify("begin tx", err)
	}

	// SET не принимает параметры; значение - целое число миллисекунд.
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", u.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return nil, classify("set lock timeout", err)
	}

	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Customers() domain.CustomerLedger  { return customerLedger{t.tx.Tx} }
func (t *pgTx) Variants() domain.VariantCatalog   { return variantCatalog{t.tx.Tx} }
func (t *pgTx) Inventory() domain.InventoryLedger { return inventoryLedger{t.tx.Tx} }
func (t *pgTx) Orders() domain.OrderWriter        { return orderWriter{t.tx.Tx} }
func (t *pgTx) Movements() domain.MovementJournal { return movementJournal{t.tx.Tx} }
func (t *pgTx) Outbox() domain.OutboxWriter       { return outboxWriter{t.tx} }

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify("rollback", err)
	}
	return nil
}

type customerLedger struct{ tx *sql.Tx }

func (l customerLedger) Get(ctx context.Context, customerID int64) (domain.Customer, error) {
	var c domain.Customer
	err := l.tx.QueryRowContext(ctx, `
		SELECT customer_id, name, mobile_number, email, outstanding_balance
		FROM customers
		WHERE customer_id = $1
		FOR UPDATE
	`, customerID).Scan(&c.ID, &c.Name, &c.MobileNumber, &c.Email, &c.OutstandingBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.NewNotFound(domain.EntityCustomer, customerID)
		}
		return domain.Customer{}, classify("select customer", err)
	}
	return c, nil
}

func (l customerLedger) IncreaseBalance(ctx context.Context, customerID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.ErrAmountNegative
	}

	res, err := l.tx.ExecContext(ctx, `
		UPDATE customers
		SET outstanding_balance = outstanding_balance + $2,
		    updated_at = NOW()
		WHERE customer_id = $1
	`, customerID, amount)
	if err != nil {
		return classify("increase customer balance", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return classify("customer rows affected", err)
	}
	if affected == 0 {
		return domain.NewNotFound(domain.EntityCustomer, customerID)
	}
	return nil
}

type variantCatalog struct{ tx *sql.Tx }

func (c variantCatalog) Get(ctx context.Context, variantID int64) (domain.ProductVariant, error) {
	var v domain.ProductVariant
	err := c.tx.QueryRowContext(ctx, `
		SELECT variant_id, product_id, sku, price
		FROM product_variants
		WHERE variant_id = $1
	`, variantID).Scan(&v.ID, &v.ProductID, &v.SKU, &v.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductVariant{}, domain.NewNotFound(domain.EntityVariant, variantID)
		}
		return domain.ProductVariant{}, classify("select variant", err)
	}
	return v, nil
}

type inventoryLedger struct{ tx *sql.Tx }

const inventoryColumns = `variant_id, quantity, warehouse_stock, shop_stock, reorder_level, updated_at`

func scanInventory(row *sql.Row) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := row.Scan(&rec.VariantID, &rec.Quantity, &rec.WarehouseStock, &rec.ShopStock, &rec.ReorderLevel, &rec.UpdatedAt)
	return rec, err
}

func (l inventoryLedger) GetByVariant(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	rec, err := scanInventory(l.tx.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE variant_id = $1`, variantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.NewNotFound(domain.EntityInventory, variantID)
		}
		return domain.InventoryRecord{}, classify("select inventory", err)
	}
	return rec, nil
}

// CheckAndReserve берёт строковую блокировку, поэтому проверка и списание видят одно состояние.
func (l inventoryLedger) CheckAndReserve(ctx context.Context, variantID int64, quantity int) (bool, int, error) {
	rec, err := scanInventory(l.tx.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE variant_id = $1 FOR UPDATE`, variantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, domain.NewNotFound(domain.EntityInventory, variantID)
		}
		return false, 0, classify("lock inventory", err)
	}
	return rec.Quantity >= quantity, rec.Quantity, nil
}

// Decrement списывает остаток условным UPDATE; правая часть SET видит значения до обновления.
func (l inventoryLedger) Decrement(ctx context.Context, variantID int64, quantity int) (domain.InventoryRecord, error) {
	if quantity <= 0 {
		return domain.InventoryRecord{}, domain.ErrItemQtyInvalid
	}

	rec, err := scanInventory(l.tx.QueryRowContext(ctx, `
		UPDATE inventory
		SET quantity = quantity - $2,
		    shop_stock = GREATEST(shop_stock - $2, 0),
		    warehouse_stock = GREATEST(warehouse_stock - GREATEST($2 - shop_stock, 0), 0),
		    updated_at = NOW()
		WHERE variant_id = $1 AND quantity >= $2
		RETURNING `+inventoryColumns, variantID, quantity))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryRecord{}, classify("decrement inventory", err)
	}

	current, getErr := l.GetByVariant(ctx, variantID)
	if getErr != nil {
		return domain.InventoryRecord{}, getErr
	}
	return domain.InventoryRecord{}, fmt.Errorf("%w: inventory quantity for variant %d would become %d",
		domain.ErrConstraintViolation, variantID, current.Quantity-quantity)
}

type orderWriter struct{ tx *sql.Tx }

func (w orderWriter) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := order.CheckWritable(); err != nil {
		return domain.Order{}, err
	}
	err := w.tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			customer_id, total_items_count, total_order_amount, order_status,
			order_date, created_by, created_date, updated_by, updated_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING order_id
	`,
		nullInt64(order.CustomerID), len(order.Items), order.TotalAmount, string(order.Status),
		order.OrderDate, order.CreatedBy, order.CreatedAt, nullInt64(order.UpdatedBy), nullTime(order.UpdatedAt),
	).Scan(&order.ID)
	if err != nil {
		return domain.Order{}, classify("insert order", err)
	}
	order.ItemsCount = len(order.Items)

	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		item.OrderID = order.ID
		if err := w.tx.QueryRowContext(ctx, `
			INSERT INTO order_items (
				order_id, variant_id, quantity, price_at_purchase, discount_rate, discount_amount,
				created_by, created_date, updated_by, updated_date
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING order_item_id
		`,
			item.OrderID, item.VariantID, item.Quantity, item.PriceAtPurchase, item.DiscountRate, item.DiscountAmount,
			item.CreatedBy, item.CreatedAt, nullInt64(item.UpdatedBy), nullTime(item.UpdatedAt),
		).Scan(&item.ID); err != nil {
			return domain.Order{}, classify("insert order item", err)
		}
		items[i] = item
	}
	order.Items = items

	return order, nil
}

type movementJournal struct{ tx *sql.Tx }

func (j movementJournal) Append(ctx context.Context, m domain.StockMovement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var orderID any
	if m.OrderID > 0 {
		orderID = m.OrderID
	}
	if _, err := j.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (variant_id, order_id, delta, quantity_after, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.VariantID, orderID, m.Delta, m.QuantityAfter, m.Reason, m.CreatedBy, m.CreatedAt); err != nil {
		return classify("append stock movement", err)
	}
	return nil
}

type outboxWriter struct{ tx *sqlx.Tx }

func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg, err := insertOutboxMessage(ctx, w.tx, msg, time.Now())
	if err != nil {
		return domain.OutboxMessage{}, classify("enqueue outbox message", err)
	}
	return msg, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

var (
	_ domain.UnitOfWork = (*UnitOfWork)(nil)
	_ domain.Tx         = (*pgTx)(nil)
)
