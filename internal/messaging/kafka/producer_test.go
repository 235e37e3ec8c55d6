package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

func newTestProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFrom(mockProducer, WithProducerLogger(log.WithField("component", "kafka-producer-test")))
	producer.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return producer, mockProducer
}

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_PublishEvent(t *testing.T) {
	producer, mockProducer := newTestProducer(t)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			return errors.New("unexpected key " + string(key))
		}
		if headerValue(msg, HeaderEventType) != domain.EventOrderPlaced {
			return errors.New("event type header is missing")
		}
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "42", map[string]any{"order_id": 42},
		Header{Key: HeaderEventType, Value: domain.EventOrderPlaced})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "42", map[string]any{"order_id": 42})
	require.Error(t, err)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEventMarshalError(t *testing.T) {
	producer, mockProducer := newTestProducer(t)

	err := producer.PublishEvent(TopicOrderEvents, "42", map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_SendRawKeepsBody(t *testing.T) {
	producer, mockProducer := newTestProducer(t)
	body := []byte(`{"already":"encoded"}`)

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var decoded map[string]string
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if decoded["already"] != "encoded" {
			return errors.New("body was re-encoded")
		}
		return nil
	})

	require.NoError(t, producer.SendRaw(TopicDeadLetterQueue, "k", body))
	require.NoError(t, mockProducer.Close())
}

func TestKnownEventType(t *testing.T) {
	require.True(t, KnownEventType(domain.EventOrderPlaced))
	require.True(t, KnownEventType(domain.EventInventoryLowStock))
	require.False(t, KnownEventType("order.cancelled"))
	require.False(t, KnownEventType(""))
}

func TestNewProducerConfig(t *testing.T) {
	cfg := NewProducerConfig()
	require.Equal(t, clientID, cfg.ClientID)
	require.True(t, cfg.Producer.Idempotent)
	require.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.Equal(t, 1, cfg.Net.MaxOpenRequests)
	require.NoError(t, cfg.Validate())
}

func TestProducer_SendRawHeadersAndTimestamp(t *testing.T) {
	producer, mockProducer := newTestProducer(t)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if !msg.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
			return errors.New("unexpected timestamp " + msg.Timestamp.String())
		}
		if headerValue(msg, HeaderRetryCount) != "3" || headerValue(msg, HeaderOriginalTopic) != TopicDeadLetterQueue {
			return errors.New("headers were not forwarded")
		}
		return nil
	})

	require.NoError(t, producer.SendRaw(TopicOrderEvents, "k", []byte(`{}`),
		Header{Key: HeaderRetryCount, Value: "3"},
		Header{Key: HeaderOriginalTopic, Value: TopicDeadLetterQueue},
	))
	require.NoError(t, mockProducer.Close())
	require.Nil(t, recordHeaders(nil))
}
