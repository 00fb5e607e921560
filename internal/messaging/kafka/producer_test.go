package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
)

func testLogger() *log.Entry {
	return log.WithField("component", "kafka-producer-test")
}

func sampleEvent() domain.OrderEvent {
	order := domain.Order{
		ID:            "order-123",
		Number:        "ORD-00000042",
		BusinessID:    "biz-1",
		CustomerID:    "cust-1",
		Status:        domain.OrderStatusConfirmed,
		PaymentStatus: domain.PaymentStatusPaid,
		Pricing:       domain.Pricing{Total: decimal.RequireFromString("38.9")},
	}
	return domain.NewOrderEvent(domain.EventOrderStatusChanged, order, domain.OrderStatusPending, time.Now())
}

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, testLogger())

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "custom.topic" {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "x-test" {
			t.Errorf("unexpected headers %+v", msg.Headers)
		}
		return nil
	})

	if err := producer.PublishEvent("custom.topic", "key-1", map[string]string{"a": "b"}, map[string]string{"x-test": "1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, testLogger())

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "order-123", sampleEvent(), nil)
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, testLogger())

	if err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int), nil); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, nil); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestNotifier_Notify(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	notifier := NewNotifier(newProducer(mockProducer, testLogger()), "")
	event := sampleEvent()

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			t.Errorf("expected topic %s, got %s", TopicOrderEvents, msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != event.OrderID {
			t.Errorf("expected key %s, got %s", event.OrderID, key)
		}

		headers := make(map[string]string)
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers[HeaderEventType] != string(domain.EventOrderStatusChanged) || headers[HeaderBusinessID] != "biz-1" {
			t.Errorf("unexpected headers %v", headers)
		}

		raw, _ := msg.Value.Encode()
		var decoded domain.OrderEvent
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		if decoded.OrderNumber != "ORD-00000042" || decoded.Total != "38.90" || decoded.PrevStatus != domain.OrderStatusPending {
			t.Errorf("unexpected payload %+v", decoded)
		}
		return nil
	})

	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNotifier_NotifyCancelledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	notifier := NewNotifier(newProducer(mockProducer, testLogger()), "custom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := notifier.Notify(ctx, sampleEvent()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
