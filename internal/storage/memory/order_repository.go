package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Get возвращает зафиксированный заказ или NotFoundError.
func (s *Store) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, domain.Operational("get order", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.NewNotFound(domain.EntityOrder, orderID)
	}
	return cloneOrder(order), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (s *Store) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Operational("list orders", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.CustomerID == nil || *order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.OrderQueryRepository = (*Store)(nil)
