package domain

import "fmt"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, остаток зарезервирован.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — продавец подтвердил заказ.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ собирается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан перевозчику.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен покупателем, резерв списан.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, резерв возвращён в доступный остаток.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned — покупатель вернул заказ.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusRefunded — сумма заказа возвращена полностью.
	OrderStatusRefunded OrderStatus = "refunded"
)

// AllOrderStatuses перечисляет статусы в порядке жизненного цикла.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusRefunded,
}

// transitions перечисляет все допустимые переходы, других нет.
// refunded сюда не входит: в него переводит только учёт возвратов.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:  {OrderStatusReturned},
	OrderStatusCancelled:  {},
	OrderStatusReturned:   {},
	OrderStatusRefunded:   {},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal сообщает, что из статуса нет переходов и остатки по заказу больше не меняются.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusReturned, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// HoldsReservation сообщает, что заказ держит резерв, который отмена вернёт в доступный остаток.
func (s OrderStatus) HoldsReservation() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing:
		return true
	default:
		return false
	}
}

// CountsAsSale сообщает, попадает ли заказ в рейтинг продаваемых товаров.
func (s OrderStatus) CountsAsSale() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// AllowedTransitions возвращает копию списка переходов из статуса.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	next := transitions[from]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition проверяет наличие ребра from → to в таблице.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition возвращает ErrInvalidTransition с текущим и запрошенным статусом.
func ValidateTransition(from, to OrderStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return WrapError(KindInvalidTransition, ErrInvalidTransition, "cannot change status from %s to %s", from, to)
}

// PaymentStatusFor подбирает статус платежа после возврата.
func PaymentStatusFor(fullyRefunded bool) PaymentStatus {
	if fullyRefunded {
		return PaymentStatusRefunded
	}
	return PaymentStatusPartiallyRefunded
}

func (s OrderStatus) String() string {
	return string(s)
}

// ParseOrderStatus разбирает статус из внешнего ввода.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(raw)
	if !s.Valid() {
		return "", BadRequest("unknown order status %q", raw)
	}
	return s, nil
}

var _ fmt.Stringer = OrderStatus("")
