package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/backoffice/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/backoffice/internal/service/outbox"
)

// errNotDeadLetter помечает сообщения, которые пишет не outbox worker.
// Их пропускают молча.
var errNotDeadLetter = errors.New("not an outbox dead letter")

// replayEvent готовое к повторной публикации событие.
type replayEvent struct {
	topic   string
	key     string
	value   []byte
	headers []kafka.Header
}

func (e replayEvent) publish(producer replayProducer) error {
	if producer == nil {
		return errors.New("producer is nil")
	}
	return producer.SendRaw(e.topic, e.key, e.value, e.headers...)
}

// decodeDeadLetter снимает с сообщения DLQ два конверта и собирает
// исходное событие заново с отметкой времени now.
func decodeDeadLetter(msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (replayEvent, error) {
	var outer kafka.Envelope
	if err := json.Unmarshal(msg.Value, &outer); err != nil || len(outer.Payload) == 0 {
		return replayEvent{}, errNotDeadLetter
	}

	var dead outbox.DeadLetter
	if err := json.Unmarshal(outer.Payload, &dead); err != nil {
		return replayEvent{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return replayEvent{}, errors.New("dead letter does not contain original event payload")
	}

	env := kafka.Envelope{
		ID:            coalesce(dead.OutboxID, outer.ID),
		AggregateType: coalesce(dead.AggregateType, outer.AggregateType),
		AggregateID:   coalesce(dead.AggregateID, outer.AggregateID),
		EventType:     coalesce(dead.EventType, outer.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now.UTC(),
	}
	if !kafka.KnownEventType(env.EventType) {
		return replayEvent{}, fmt.Errorf("unsupported event type %q", env.EventType)
	}

	value, err := json.Marshal(env)
	if err != nil {
		return replayEvent{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayEvent{
		topic: targetTopic,
		key:   env.Key(),
		value: value,
		headers: append(env.Headers(),
			kafka.Header{Key: kafka.HeaderRetryCount, Value: strconv.Itoa(dead.Attempts)},
			kafka.Header{Key: kafka.HeaderOriginalTopic, Value: msg.Topic},
		),
	}, nil
}

// coalesce возвращает первое непустое значение.
func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
