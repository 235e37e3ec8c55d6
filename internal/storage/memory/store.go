package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Store - in-memory хранилище бэк-офиса для локальной разработки и тестов.
// Транзакции сериализуются семафором, поэтому CheckAndReserve и Decrement
// внутри одной транзакции видят согласованное состояние.
type Store struct {
	mu        sync.RWMutex
	customers map[int64]domain.Customer
	variants  map[int64]domain.ProductVariant
	inventory map[int64]domain.InventoryRecord
	orders    map[int64]domain.Order
	movements map[int64][]domain.StockMovement

	outbox *OutboxRepository

	txSem      chan struct{}
	orderSeq   atomic.Int64
	itemSeq    atomic.Int64
	movementID atomic.Int64
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		customers: make(map[int64]domain.Customer),
		variants:  make(map[int64]domain.ProductVariant),
		inventory: make(map[int64]domain.InventoryRecord),
		orders:    make(map[int64]domain.Order),
		movements: make(map[int64][]domain.StockMovement),
		outbox:    NewOutboxRepository(),
		txSem:     make(chan struct{}, 1),
	}
}

// PutCustomer добавляет или заменяет клиента.
func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// PutVariant добавляет или заменяет вариант товара.
func (s *Store) PutVariant(v domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

// PutInventory добавляет или заменяет складскую запись.
func (s *Store) PutInventory(rec domain.InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.inventory[rec.VariantID] = rec
}

// Customer возвращает зафиксированное состояние клиента.
func (s *Store) Customer(id int64) (domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, domain.NewNotFound(domain.EntityCustomer, id)
	}
	return c, nil
}

// OrderCount возвращает количество зафиксированных заказов.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Outbox возвращает outbox-репозиторий, который наполняют транзакции хранилища.
func (s *Store) Outbox() domain.OutboxRepository {
	return s.outbox
}

// Ping всегда успешен; нужен для readiness-проверок наравне с postgres.
func (s *Store) Ping() error {
	return nil
}
