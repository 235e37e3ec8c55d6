package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "backoffice"

// Header - заголовок kafka-сообщения.
type Header struct {
	Key   string
	Value string
}

func recordHeaders(headers []Header) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, len(headers))
	for i, h := range headers {
		out[i] = sarama.RecordHeader{Key: []byte(h.Key), Value: []byte(h.Value)}
	}
	return out
}

// Producer синхронно отправляет события в Kafka. Каждая отправка ждёт
// подтверждения всех in-sync реплик.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

type ProducerOption func(*Producer)

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProducerConfig: acks=all, идемпотентный producer, snappy.
// Идемпотентность sarama требует одного in-flight запроса на брокер.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFrom(sp, opts...), nil
}

// NewProducerFrom оборачивает готовый sarama.SyncProducer (в тестах - mocks.SyncProducer).
func NewProducerFrom(sp sarama.SyncProducer, opts ...ProducerOption) *Producer {
	p := &Producer{sync: sp, logger: log.WithField("component", "kafka-producer"), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishEvent кодирует event в JSON и отправляет через SendRaw.
func (p *Producer) PublishEvent(topic, key string, event any, headers ...Header) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}
	return p.SendRaw(topic, key, body, headers...)
}

func (p *Producer) SendRaw(topic, key string, value []byte, headers ...Header) error {
	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})

	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(headers),
		Timestamp: p.now(),
	})
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
