package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает состояние оплаты заказа. На остатки и статус заказа не влияет.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата ещё не списана.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — провайдер подтвердил списание.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — провайдер отклонил списание.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusPartiallyRefunded — часть суммы возвращена покупателю.
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	// PaymentStatusRefunded — вся сумма возвращена покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed,
		PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentGateway абстрагирует внешнего платёжного провайдера. Реальная интеграция вне периметра сервиса.
type PaymentGateway interface {
	// Capture списывает сумму заказа по выбранному способу оплаты.
	Capture(ctx context.Context, orderID, method string, amount decimal.Decimal) (PaymentStatus, error)
	// Refund возвращает часть или всю сумму заказа.
	Refund(ctx context.Context, orderID string, amount decimal.Decimal) error
}
