package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Справочники (клиенты, варианты, остатки) ведёт внешний CRUD-слой.
// Эти upsert-методы нужны для демо-данных и интеграционных тестов.

// UpsertCustomer создаёт или обновляет клиента с заданным идентификатором.
func (s *Store) UpsertCustomer(ctx context.Context, c domain.Customer) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (customer_id, name, mobile_number, email, outstanding_balance)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (customer_id) DO UPDATE
		SET name = EXCLUDED.name,
		    mobile_number = EXCLUDED.mobile_number,
		    email = EXCLUDED.email,
		    outstanding_balance = EXCLUDED.outstanding_balance,
		    updated_at = NOW()
	`, c.ID, c.Name, c.MobileNumber, c.Email, c.OutstandingBalance); err != nil {
		return fmt.Errorf("upsert customer %d: %w", c.ID, err)
	}
	return nil
}

// UpsertVariant создаёт или обновляет вариант товара.
func (s *Store) UpsertVariant(ctx context.Context, v domain.ProductVariant) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO product_variants (variant_id, product_id, sku, price)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (variant_id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    sku = EXCLUDED.sku,
		    price = EXCLUDED.price
	`, v.ID, v.ProductID, v.SKU, v.Price); err != nil {
		return fmt.Errorf("upsert variant %d: %w", v.ID, err)
	}
	return nil
}

// UpsertInventory создаёт или заменяет складскую запись.
func (s *Store) UpsertInventory(ctx context.Context, rec domain.InventoryRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (variant_id, quantity, warehouse_stock, shop_stock, reorder_level)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (variant_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    warehouse_stock = EXCLUDED.warehouse_stock,
		    shop_stock = EXCLUDED.shop_stock,
		    reorder_level = EXCLUDED.reorder_level,
		    updated_at = NOW()
	`, rec.VariantID, rec.Quantity, rec.WarehouseStock, rec.ShopStock, rec.ReorderLevel); err != nil {
		return fmt.Errorf("upsert inventory %d: %w", rec.VariantID, err)
	}
	return nil
}

// SeedDemo заполняет небольшой каталог для локального запуска.
func (s *Store) SeedDemo(ctx context.Context) error {
	customers := []domain.Customer{
		{ID: 1, Name: "Walk-in Customer", MobileNumber: "+10000000001", Email: "walkin@example.com", OutstandingBalance: decimal.Zero},
		{ID: 2, Name: "Jane Doe", MobileNumber: "+10000000002", Email: "jane@example.com", OutstandingBalance: decimal.RequireFromString("12.50")},
	}
	for _, c := range customers {
		if err := s.UpsertCustomer(ctx, c); err != nil {
			return err
		}
	}

	variants := []struct {
		variant domain.ProductVariant
		stock   domain.InventoryRecord
	}{
		{domain.ProductVariant{ID: 1, ProductID: 1, SKU: "TSHIRT-RED-M", Price: decimal.RequireFromString("19.99")},
			domain.InventoryRecord{VariantID: 1, Quantity: 50, ShopStock: 10, WarehouseStock: 40, ReorderLevel: 5}},
		{domain.ProductVariant{ID: 2, ProductID: 1, SKU: "TSHIRT-RED-L", Price: decimal.RequireFromString("19.99")},
			domain.InventoryRecord{VariantID: 2, Quantity: 20, ShopStock: 5, WarehouseStock: 15, ReorderLevel: 5}},
		{domain.ProductVariant{ID: 3, ProductID: 2, SKU: "MUG-WHITE", Price: decimal.RequireFromString("7.50")},
			domain.InventoryRecord{VariantID: 3, Quantity: 20, ShopStock: 20, WarehouseStock: 0, ReorderLevel: 3}},
	}
	for _, v := range variants {
		if err := s.UpsertVariant(ctx, v.variant); err != nil {
			return err
		}
		if err := s.UpsertInventory(ctx, v.stock); err != nil {
			return err
		}
	}
	return s.syncSequences(ctx)
}

// syncSequences сдвигает BIGSERIAL-последовательности за явно вставленные идентификаторы.
func (s *Store) syncSequences(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for _, table := range []struct{ name, column string }{
		{"customers", "customer_id"},
		{"product_variants", "variant_id"},
	} {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%[1]s', '%[2]s'), COALESCE(MAX(%[2]s), 1)) FROM %[1]s`,
			table.name, table.column,
		)); err != nil {
			return fmt.Errorf("sync sequence for %s: %w", table.name, err)
		}
	}
	return nil
}
