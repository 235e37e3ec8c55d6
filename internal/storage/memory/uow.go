package memory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

var errTxClosed = errors.New("transaction already closed")

// Begin ждёт свою очередь на запись и открывает транзакцию.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	select {
	case s.txSem <- struct{}{}:
	case <-ctx.Done():
		return nil, domain.Operational("begin transaction", ctx.Err())
	}

	return &memTx{
		store:     s,
		customers: make(map[int64]domain.Customer),
		inventory: make(map[int64]domain.InventoryRecord),
	}, nil
}

// memTx копит изменения и применяет их к Store только при Commit.
type memTx struct {
	store  *Store
	closed bool

	customers map[int64]domain.Customer
	inventory map[int64]domain.InventoryRecord
	orders    []domain.Order
	movements []domain.StockMovement
	outbox    []domain.OutboxMessage
}

func (tx *memTx) Customers() domain.CustomerLedger  { return customerLedger{tx} }
func (tx *memTx) Variants() domain.VariantCatalog   { return variantCatalog{tx} }
func (tx *memTx) Inventory() domain.InventoryLedger { return inventoryLedger{tx} }
func (tx *memTx) Orders() domain.OrderWriter        { return orderWriter{tx} }
func (tx *memTx) Movements() domain.MovementJournal { return movementJournal{tx} }
func (tx *memTx) Outbox() domain.OutboxWriter       { return outboxWriter{tx} }

func (tx *memTx) Commit() error {
	if tx.closed {
		return domain.Operational("commit", errTxClosed)
	}
	s := tx.store

	s.mu.Lock()
	for id, c := range tx.customers {
		s.customers[id] = c
	}
	for id, rec := range tx.inventory {
		s.inventory[id] = rec
	}
	for _, order := range tx.orders {
		s.orders[order.ID] = order
	}
	for _, m := range tx.movements {
		s.movements[m.VariantID] = append(s.movements[m.VariantID], m)
	}
	s.mu.Unlock()

	s.outbox.append(tx.outbox...)

	tx.release()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.release()
	return nil
}

func (tx *memTx) release() {
	tx.closed = true
	<-tx.store.txSem
}

func (tx *memTx) check(ctx context.Context, op string) error {
	if tx.closed {
		return domain.Operational(op, errTxClosed)
	}
	if err := ctx.Err(); err != nil {
		return domain.Operational(op, err)
	}
	return nil
}

func (tx *memTx) customer(id int64) (domain.Customer, bool) {
	if c, ok := tx.customers[id]; ok {
		return c, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	c, ok := tx.store.customers[id]
	return c, ok
}

func (tx *memTx) inventoryRecord(variantID int64) (domain.InventoryRecord, bool) {
	if rec, ok := tx.inventory[variantID]; ok {
		return rec, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	rec, ok := tx.store.inventory[variantID]
	return rec, ok
}

type customerLedger struct{ tx *memTx }

func (l customerLedger) Get(ctx context.Context, customerID int64) (domain.Customer, error) {
	if err := l.tx.check(ctx, "get customer"); err != nil {
		return domain.Customer{}, err
	}
	c, ok := l.tx.customer(customerID)
	if !ok {
		return domain.Customer{}, domain.NewNotFound(domain.EntityCustomer, customerID)
	}
	return c, nil
}

func (l customerLedger) IncreaseBalance(ctx context.Context, customerID int64, amount decimal.Decimal) error {
	if err := l.tx.check(ctx, "increase balance"); err != nil {
		return err
	}
	if amount.IsNegative() {
		return domain.ErrAmountNegative
	}
	c, ok := l.tx.customer(customerID)
	if !ok {
		return domain.NewNotFound(domain.EntityCustomer, customerID)
	}
	c.OutstandingBalance = c.OutstandingBalance.Add(amount)
	l.tx.customers[customerID] = c
	return nil
}

type variantCatalog struct{ tx *memTx }

func (c variantCatalog) Get(ctx context.Context, variantID int64) (domain.ProductVariant, error) {
	if err := c.tx.check(ctx, "get variant"); err != nil {
		return domain.ProductVariant{}, err
	}
	c.tx.store.mu.RLock()
	defer c.tx.store.mu.RUnlock()

	v, ok := c.tx.store.variants[variantID]
	if !ok {
		return domain.ProductVariant{}, domain.NewNotFound(domain.EntityVariant, variantID)
	}
	return v, nil
}

type inventoryLedger struct{ tx *memTx }

func (l inventoryLedger) GetByVariant(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	if err := l.tx.check(ctx, "get inventory"); err != nil {
		return domain.InventoryRecord{}, err
	}
	rec, ok := l.tx.inventoryRecord(variantID)
	if !ok {
		return domain.InventoryRecord{}, domain.NewNotFound(domain.EntityInventory, variantID)
	}
	return rec, nil
}

func (l inventoryLedger) CheckAndReserve(ctx context.Context, variantID int64, quantity int) (bool, int, error) {
	rec, err := l.GetByVariant(ctx, variantID)
	if err != nil {
		return false, 0, err
	}
	return rec.Quantity >= quantity, rec.Quantity, nil
}

func (l inventoryLedger) Decrement(ctx context.Context, variantID int64, quantity int) (domain.InventoryRecord, error) {
	rec, err := l.GetByVariant(ctx, variantID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	next, err := rec.Decrement(quantity)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	next.UpdatedAt = time.Now().UTC()
	l.tx.inventory[variantID] = next
	return next, nil
}

type orderWriter struct{ tx *memTx }

func (w orderWriter) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := w.tx.check(ctx, "create order"); err != nil {
		return domain.Order{}, err
	}
	if err := order.CheckWritable(); err != nil {
		return domain.Order{}, err
	}
	s := w.tx.store

	order.ID = s.orderSeq.Add(1)
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		item.ID = s.itemSeq.Add(1)
		item.OrderID = order.ID
		items[i] = item
	}
	order.Items = items
	order.ItemsCount = len(items)

	w.tx.orders = append(w.tx.orders, cloneOrder(order))
	return order, nil
}

type movementJournal struct{ tx *memTx }

func (j movementJournal) Append(ctx context.Context, m domain.StockMovement) error {
	if err := j.tx.check(ctx, "append movement"); err != nil {
		return err
	}
	m.ID = j.tx.store.movementID.Add(1)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	j.tx.movements = append(j.tx.movements, m)
	return nil
}

type outboxWriter struct{ tx *memTx }

func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := w.tx.check(ctx, "enqueue outbox"); err != nil {
		return domain.OutboxMessage{}, err
	}
	msg = msg.Stamped(time.Now())
	w.tx.outbox = append(w.tx.outbox, msg)
	return msg, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*memTx)(nil)
)
