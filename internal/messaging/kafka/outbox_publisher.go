package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Envelope - тело сообщения, публикуемого из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает событие outbox. Payload должен быть валидным JSON.
func NewEnvelope(msg domain.OutboxMessage, now time.Time) (Envelope, error) {
	if !json.Valid(msg.Payload) {
		return Envelope{}, fmt.Errorf("outbox message %s has invalid json payload", msg.ID)
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   now.UTC(),
	}, nil
}

// Key - ключ партиционирования: id агрегата, а без него id события.
// События одного заказа или варианта попадают в одну партицию и сохраняют порядок.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// Headers дублирует в заголовках поля, по которым подписчики фильтруют без разбора тела.
func (e Envelope) Headers() []Header {
	return []Header{
		{Key: HeaderEventType, Value: e.EventType},
		{Key: HeaderAggregateType, Value: e.AggregateType},
		{Key: HeaderOutboxID, Value: e.ID},
	}
}

// OutboxTopicPublisher публикует outbox-сообщения в один топик.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт паблишер в topic, по умолчанию TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}
	env, err := NewEnvelope(msg, p.producer.now())
	if err != nil {
		return err
	}
	return p.producer.PublishEvent(p.topic, env.Key(), env, env.Headers()...)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
