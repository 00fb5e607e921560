// Package pricing считает денежную раскладку заказа: позиции, скидку, доставку и налог.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

var (
	// DefaultTaxRate — ставка налога по умолчанию (8%).
	DefaultTaxRate = decimal.RequireFromString("0.08")
	// DefaultShippingBase — фиксированная часть доставки.
	DefaultShippingBase = decimal.RequireFromString("5.00")
	// DefaultShippingPerWeight добавляется к доставке за каждую единицу веса.
	DefaultShippingPerWeight = decimal.RequireFromString("0.50")
)

// Line — позиция на входе расчёта.
type Line struct {
	UnitPrice decimal.Decimal
	Qty       int32
	Weight    decimal.Decimal
}

// Quote — результат расчёта.
type Quote struct {
	LineTotals []decimal.Decimal
	Weight     decimal.Decimal
	Pricing    domain.Pricing
}

// Calculator выполняет чистый расчёт цены. Все внешние политики подключаются функциями.
type Calculator struct {
	shipping domain.ShippingFunc
	tax      domain.TaxPolicy
	coupon   domain.CouponResolver
}

// Option настраивает Calculator.
type Option func(*Calculator)

// WithShipping подменяет расчёт доставки.
func WithShipping(fn domain.ShippingFunc) Option {
	return func(c *Calculator) {
		if fn != nil {
			c.shipping = fn
		}
	}
}

// WithTaxPolicy подменяет ставку налога.
func WithTaxPolicy(fn domain.TaxPolicy) Option {
	return func(c *Calculator) {
		if fn != nil {
			c.tax = fn
		}
	}
}

// WithCoupons подключает стратегию скидок.
func WithCoupons(fn domain.CouponResolver) Option {
	return func(c *Calculator) {
		if fn != nil {
			c.coupon = fn
		}
	}
}

// NewCalculator создаёт калькулятор с политиками по умолчанию.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		shipping: FlatRateShipping(DefaultShippingBase, DefaultShippingPerWeight),
		tax:      FixedTaxRate(DefaultTaxRate),
		coupon:   NoCoupons,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FlatRateShipping считает base + perWeight * weight с округлением до центов.
func FlatRateShipping(base, perWeight decimal.Decimal) domain.ShippingFunc {
	return func(_ context.Context, weight decimal.Decimal, _ domain.Address) (decimal.Decimal, error) {
		return base.Add(perWeight.Mul(weight)).Round(2), nil
	}
}

// FixedTaxRate возвращает одну ставку для любого адреса.
func FixedTaxRate(rate decimal.Decimal) domain.TaxPolicy {
	return func(context.Context, domain.Address) (decimal.Decimal, error) {
		return rate, nil
	}
}

// NoCoupons не даёт скидки ни по одному купону.
func NoCoupons(context.Context, string, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// Request передаёт в Quote позиции, купон и адрес доставки.
type Request struct {
	BusinessID string
	CouponCode string
	Address    domain.Address
	Lines      []Line
}

// Quote считает subtotal, скидку, доставку, налог и итог.
// Ошибка купона не прерывает расчёт: скидка считается нулевой.
func (c *Calculator) Quote(ctx context.Context, req Request) (Quote, error) {
	q := Quote{
		LineTotals: make([]decimal.Decimal, len(req.Lines)),
		Weight:     decimal.Zero,
	}

	subtotal := decimal.Zero
	for i, line := range req.Lines {
		qty := decimal.NewFromInt32(line.Qty)
		total := line.UnitPrice.Mul(qty)
		q.LineTotals[i] = total
		subtotal = subtotal.Add(total)
		q.Weight = q.Weight.Add(line.Weight.Mul(qty))
	}

	discount := decimal.Zero
	if req.CouponCode != "" {
		d, err := c.coupon(ctx, req.BusinessID, req.CouponCode, subtotal)
		if err == nil {
			discount = clampDiscount(d, subtotal)
		}
	}
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	shipping, err := c.shipping(ctx, q.Weight, req.Address)
	if err != nil {
		return Quote{}, fmt.Errorf("shipping: %w", err)
	}

	rate, err := c.tax(ctx, req.Address)
	if err != nil {
		return Quote{}, fmt.Errorf("tax rate: %w", err)
	}
	tax := subtotal.Sub(discount).Mul(rate).Round(2)

	q.Pricing = domain.Pricing{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Sub(discount).Add(shipping).Add(tax),
	}
	return q, nil
}

func clampDiscount(d, subtotal decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}
