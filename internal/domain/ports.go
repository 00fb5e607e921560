package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// StockLedger владеет счётчиками available/reserved. Операции над одним товаром сериализуются реализацией.
type StockLedger interface {
	// Reserve переводит qty из available в reserved или возвращает ErrOutOfStock.
	Reserve(ctx context.Context, productID string, qty int64) error
	// Release возвращает резерв в доступный остаток (отмена до исполнения).
	Release(ctx context.Context, productID string, qty int64) error
	// Consume списывает резерв окончательно (доставка).
	Consume(ctx context.Context, productID string, qty int64) error
	// Restock возвращает товар в продажу (возврат).
	Restock(ctx context.Context, productID string, qty int64) error
}

// ProductCatalog читает и заводит товары.
type ProductCatalog interface {
	Get(ctx context.Context, productID string) (Product, error)
	Create(ctx context.Context, product Product) error
	ListByBusiness(ctx context.Context, businessID string) ([]Product, error)
}

// ProductStore объединяет каталог и складской учёт: обе роли живут в одном хранилище.
type ProductStore interface {
	ProductCatalog
	StockLedger
}

// TxStores содержит склад и заказы, привязанные к одной транзакции хранилища.
type TxStores struct {
	Ledger StockLedger
	Orders OrderRepository
}

// Transactor выполняет fn атомарно: изменения склада и заказов фиксируются вместе или не фиксируются вовсе.
// Ошибка fn откатывает транзакцию и возвращается без обёртки.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx TxStores) error) error
}

// OrderNumberFormat задаёт вид номера заказа. Префикс косметический, уникальность даёт счётчик.
const OrderNumberFormat = "ORD-%08d"

// OrderNumberGenerator выдаёт уникальные человекочитаемые номера заказов.
type OrderNumberGenerator interface {
	Next(ctx context.Context) (string, error)
}

// Notifier получает события заказа. Вызывается fire-and-forget, ошибки только логируются.
type Notifier interface {
	Notify(ctx context.Context, event OrderEvent) error
}

// ShippingFunc считает стоимость доставки по суммарному весу и адресу.
type ShippingFunc func(ctx context.Context, weight decimal.Decimal, address Address) (decimal.Decimal, error)

// TaxPolicy возвращает ставку налога для адреса (0.08 = 8%).
type TaxPolicy func(ctx context.Context, address Address) (decimal.Decimal, error)

// CouponResolver возвращает скидку по купону. Пустой купон или неизвестный код дают ноль.
type CouponResolver func(ctx context.Context, businessID, code string, subtotal decimal.Decimal) (decimal.Decimal, error)
