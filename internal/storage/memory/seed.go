package memory

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// SeedDemo наполняет хранилище небольшим каталогом для локального запуска.
func (s *Store) SeedDemo() {
	s.PutCustomer(domain.Customer{ID: 1, Name: "Walk-in Customer", MobileNumber: "+10000000001", Email: "walkin@example.com", OutstandingBalance: decimal.Zero})
	s.PutCustomer(domain.Customer{ID: 2, Name: "Jane Doe", MobileNumber: "+10000000002", Email: "jane@example.com", OutstandingBalance: decimal.RequireFromString("12.50")})

	variants := []struct {
		id, product int64
		sku         string
		price       string
		shop, wh    int
		reorder     int
	}{
		{1, 1, "TSHIRT-RED-M", "19.99", 10, 40, 5},
		{2, 1, "TSHIRT-RED-L", "19.99", 5, 15, 5},
		{3, 2, "MUG-WHITE", "7.50", 20, 0, 3},
	}
	for _, v := range variants {
		s.PutVariant(domain.ProductVariant{ID: v.id, ProductID: v.product, SKU: v.sku, Price: decimal.RequireFromString(v.price)})
		s.PutInventory(domain.InventoryRecord{
			VariantID:      v.id,
			Quantity:       v.shop + v.wh,
			ShopStock:      v.shop,
			WarehouseStock: v.wh,
			ReorderLevel:   v.reorder,
		})
	}
}
