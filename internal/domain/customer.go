package domain

import "github.com/shopspring/decimal"

// Customer - клиент с накопленной задолженностью.
type Customer struct {
	ID                 int64
	Name               string
	MobileNumber       string
	Email              string
	OutstandingBalance decimal.Decimal
}

// ProductVariant - продаваемый вариант товара.
type ProductVariant struct {
	ID        int64
	ProductID int64
	SKU       string
	Price     decimal.Decimal
}
