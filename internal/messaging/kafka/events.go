package kafka

import (
	"context"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

// TopicOrderEvents используется, если топик не задан конфигурацией.
const TopicOrderEvents = "settlement.order.events"

// Kafka headers событий заказа.
const (
	HeaderEventType  = "x-event-type"
	HeaderBusinessID = "x-business-id"
)

// Notifier публикует события заказа в Kafka. Ключом сообщения служит ID заказа,
// поэтому события одного заказа попадают в одну партицию.
type Notifier struct {
	producer *Producer
	topic    string
}

// NewNotifier создаёт Notifier. Пустой topic заменяется TopicOrderEvents.
func NewNotifier(producer *Producer, topic string) *Notifier {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &Notifier{producer: producer, topic: topic}
}

// Notify реализует domain.Notifier.
func (n *Notifier) Notify(ctx context.Context, event domain.OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.producer.PublishEvent(n.topic, event.OrderID, event, map[string]string{
		HeaderEventType:  string(event.Type),
		HeaderBusinessID: event.BusinessID,
	})
}

var _ domain.Notifier = (*Notifier)(nil)
