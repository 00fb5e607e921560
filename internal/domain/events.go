package domain

import "time"

// EventType — тип события заказа.
type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderRefunded      EventType = "order.refunded"
	EventPaymentUpdated     EventType = "order.payment_updated"
)

// OrderEvent уходит подписчикам после каждого изменения заказа.
type OrderEvent struct {
	Type          EventType     `json:"type"`
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	BusinessID    string        `json:"business_id"`
	CustomerID    string        `json:"customer_id"`
	Status        OrderStatus   `json:"status"`
	PrevStatus    OrderStatus   `json:"prev_status,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Total         string        `json:"total"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewOrderEvent собирает событие по текущему состоянию заказа.
func NewOrderEvent(t EventType, o Order, prev OrderStatus, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		BusinessID:    o.BusinessID,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		PrevStatus:    prev,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Pricing.Total.StringFixed(2),
		OccurredAt:    at,
	}
}
