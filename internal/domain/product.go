package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает позицию каталога вместе со складскими счётчиками.
// Available и Reserved меняются только через StockLedger.
type Product struct {
	ID         string
	BusinessID string
	Name       string
	SKU        string
	Price      decimal.Decimal
	SalePrice  decimal.NullDecimal
	// Weight единицы товара нужен расчёту доставки.
	Weight    decimal.Decimal
	Available int64
	Reserved  int64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UnitPrice возвращает цену продажи: распродажную, если она задана, иначе обычную.
func (p Product) UnitPrice() decimal.Decimal {
	if p.SalePrice.Valid && p.SalePrice.Decimal.IsPositive() {
		return p.SalePrice.Decimal
	}
	return p.Price
}

// StockLevel фиксирует счётчики товара на момент чтения.
type StockLevel struct {
	ProductID string
	Available int64
	Reserved  int64
}

// Stock возвращает снимок счётчиков.
func (p Product) Stock() StockLevel {
	return StockLevel{ProductID: p.ID, Available: p.Available, Reserved: p.Reserved}
}
