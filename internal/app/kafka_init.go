package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/messaging/kafka"
)

// initKafkaProducer возвращает nil без ошибки, когда брокеры не заданы.
// Ошибку подключения вызывающий код только логирует: заказы принимаются и без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	entry := logger.WithField("brokers", brokers)

	producer, err := kafka.NewProducer(brokers, kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		entry.WithError(err).Warn("kafka unavailable, outbox will accumulate")
		return nil, err
	}
	entry.Info("kafka producer ready")
	return producer, nil
}

// outboxPublishers: основной топик и DLQ поверх одного producer.
func outboxPublishers(producer *kafka.Producer, cfg Config) (publisher, dlq domain.OutboxPublisher) {
	if producer == nil {
		return nil, nil
	}
	publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
	if cfg.KafkaDLQTopic != "" {
		dlq = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
	}
	return publisher, dlq
}

// kafkaChecker открывает короткоживущий клиент и ждёт метаданные кластера.
func kafkaChecker(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sc := sarama.NewConfig()
		sc.ClientID = "backoffice-health"
		if deadline, ok := ctx.Deadline(); ok {
			sc.Net.DialTimeout = time.Until(deadline)
		}

		client, err := sarama.NewClient(brokers, sc)
		if err != nil {
			return fmt.Errorf("kafka metadata: %w", err)
		}
		defer func() { _ = client.Close() }()

		if len(client.Brokers()) == 0 {
			return errors.New("kafka metadata lists no brokers")
		}
		return nil
	}
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer close failed")
		return
	}
	logger.Info("kafka producer closed")
}
