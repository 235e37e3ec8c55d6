package memory

import (
	"context"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// GetInventory возвращает зафиксированный остаток варианта.
func (s *Store) GetInventory(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.InventoryRecord{}, domain.Operational("get inventory", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.inventory[variantID]
	if !ok {
		return domain.InventoryRecord{}, domain.NewNotFound(domain.EntityInventory, variantID)
	}
	return rec, nil
}

// ListMovements возвращает журнал движения варианта, новые записи первыми.
func (s *Store) ListMovements(ctx context.Context, variantID int64, limit int) ([]domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Operational("list movements", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.movements[variantID]
	result := make([]domain.StockMovement, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		result = append(result, events[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

var _ domain.InventoryQueryRepository = (*Store)(nil)
