package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/settlement/internal/domain"
	"github.com/vladislavdragonenkov/settlement/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/settlement/internal/notify"
)

// initKafkaProducer создаёт producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, falling back to log notifier")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// newNotifier выбирает получателя событий заказа: Kafka, если она доступна, иначе лог.
func newNotifier(cfg Config, logger *log.Entry) (domain.Notifier, *kafka.Producer) {
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil || producer == nil {
		return notify.NewLogNotifier(logger.WithField("component", "notifier")), nil
	}
	return kafka.NewNotifier(producer, cfg.KafkaTopic), producer
}

// closeKafka закрывает producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
