// Package notify содержит Notifier, который пишет события заказа в лог.
// Используется, когда Kafka не настроена.
package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// LogNotifier логирует события заказа.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "order-events")
	}
	return &LogNotifier{logger: logger}
}

// Notify реализует domain.Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event domain.OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.WithFields(log.Fields{
		"event":          event.Type,
		"order_id":       event.OrderID,
		"order_number":   event.OrderNumber,
		"business_id":    event.BusinessID,
		"status":         event.Status,
		"prev_status":    event.PrevStatus,
		"payment_status": event.PaymentStatus,
		"total":          event.Total,
	}).Info("order event")
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
