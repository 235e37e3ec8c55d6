package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UnitOfWork открывает атомарную единицу работы над хранилищем.
type UnitOfWork interface {
	// Begin начинает транзакцию. Отмена ctx после Begin не прерывает Commit.
	Begin(ctx context.Context) (Tx, error)
}

// Tx - транзакционная область: все изменения либо фиксируются вместе, либо откатываются.
type Tx interface {
	Customers() CustomerLedger
	Variants() VariantCatalog
	Inventory() InventoryLedger
	Orders() OrderWriter
	Movements() MovementJournal
	Outbox() OutboxWriter
	// Commit фиксирует изменения. После Commit вызов Rollback ничего не делает.
	Commit() error
	// Rollback откатывает изменения; повторный вызов безопасен.
	Rollback() error
}

// CustomerLedger - баланс клиентов внутри транзакции.
type CustomerLedger interface {
	// Get возвращает клиента и блокирует его запись до конца транзакции.
	Get(ctx context.Context, customerID int64) (Customer, error)
	// IncreaseBalance увеличивает outstanding_balance на неотрицательную сумму.
	IncreaseBalance(ctx context.Context, customerID int64, amount decimal.Decimal) error
}

// VariantCatalog - справочник вариантов товаров.
type VariantCatalog interface {
	Get(ctx context.Context, variantID int64) (ProductVariant, error)
}

// InventoryLedger - складские остатки внутри транзакции.
type InventoryLedger interface {
	GetByVariant(ctx context.Context, variantID int64) (InventoryRecord, error)
	// CheckAndReserve блокирует запись до конца транзакции и сообщает, хватает ли остатка.
	CheckAndReserve(ctx context.Context, variantID int64, quantity int) (ok bool, available int, err error)
	// Decrement списывает остаток; ErrConstraintViolation, если он ушёл бы в минус.
	Decrement(ctx context.Context, variantID int64, quantity int) (InventoryRecord, error)
}

// OrderWriter сохраняет новый заказ вместе с позициями и проставляет идентификаторы.
type OrderWriter interface {
	Create(ctx context.Context, order Order) (Order, error)
}

// MovementJournal дописывает журнал движения остатков.
type MovementJournal interface {
	Append(ctx context.Context, movement StockMovement) error
}

// OutboxWriter кладёт событие в outbox в рамках текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OrderQueryRepository - чтение зафиксированных заказов.
type OrderQueryRepository interface {
	// Get возвращает заказ с позициями или NotFoundError.
	Get(ctx context.Context, orderID int64) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми.
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]Order, error)
}

// InventoryQueryRepository - чтение остатков и журнала движения.
type InventoryQueryRepository interface {
	GetInventory(ctx context.Context, variantID int64) (InventoryRecord, error)
	ListMovements(ctx context.Context, variantID int64, limit int) ([]StockMovement, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет забирать события для публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит захваченные Idempotency-Key и закэшированные ответы.
// Истёкшая запись не видна через Get и не мешает новому Claim.
type IdempotencyRepository interface {
	// Claim атомарно захватывает ключ в статусе processing. Если ключ уже
	// захвачен, возвращается существующая запись и ошибка из ClaimConflict.
	Claim(key, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	// Settle сохраняет ответ и переводит ключ в done или failed.
	Settle(key string, status IdempotencyStatus, responseBody []byte, httpStatus int) error
	// Release освобождает ключ, чтобы клиент мог повторить запрос.
	Release(key string) error
	// PurgeExpired удаляет не более limit записей с ExpiresAt <= before.
	PurgeExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
