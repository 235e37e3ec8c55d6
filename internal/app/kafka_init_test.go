package app

import (
	"testing"

	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/messaging/kafka"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(nil, log.WithField("test", "kafka"))
	require.NoError(t, err)
	require.Nil(t, producer)
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	producer, err := initKafkaProducer([]string{"127.0.0.1:1"}, log.WithField("test", "kafka"))
	require.Error(t, err)
	require.Nil(t, producer)
}

func TestCloseKafka_NilProducer(_ *testing.T) {
	closeKafka(nil, log.WithField("test", "kafka"))
}

func TestOutboxPublishers(t *testing.T) {
	cfg := DefaultConfig()

	publisher, dlq := outboxPublishers(nil, cfg)
	require.Nil(t, publisher)
	require.Nil(t, dlq)

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()
	mockProducer.ExpectSendMessageAndSucceed()
	producer := kafka.NewProducerFrom(mockProducer)

	publisher, dlq = outboxPublishers(producer, cfg)
	require.NotNil(t, publisher)
	require.NotNil(t, dlq)

	msg := domain.OutboxMessage{ID: "1", AggregateID: "1", EventType: domain.EventOrderPlaced, Payload: []byte(`{}`)}
	require.NoError(t, publisher.Publish(msg))
	require.NoError(t, dlq.Publish(msg))

	cfg.KafkaDLQTopic = ""
	_, dlq = outboxPublishers(producer, cfg)
	require.Nil(t, dlq)

	closeKafka(producer, log.WithField("test", "kafka"))
}

func TestKafkaChecker_Unreachable(t *testing.T) {
	check := kafkaChecker([]string{"127.0.0.1:1"})
	require.Error(t, check(t.Context()))
}
