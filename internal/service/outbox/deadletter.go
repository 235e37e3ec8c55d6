package outbox

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// DeadLetter - сообщение в DLQ-топике. Его же разбирает dlq-reprocess.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	PublishError   string          `json:"publish_error"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// newDeadLetter упаковывает исходное событие. Невалидный JSON в payload
// сохраняется строкой.
func newDeadLetter(msg domain.OutboxMessage, attempts int, cause error, now time.Time) DeadLetter {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(msg.Payload))
	}
	return DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		Attempts:       attempts,
		PublishError:   cause.Error(),
		EnqueuedAt:     msg.CreatedAt,
		DLQPublishedAt: now.UTC(),
	}
}

// message оборачивает письмо в событие outbox с теми же идентификаторами,
// чтобы DLQ-топик партиционировался так же, как основной.
func (d DeadLetter) message() domain.OutboxMessage {
	// Все поля сериализуемы, ошибки быть не может.
	data, _ := json.Marshal(d)
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       data,
		CreatedAt:     d.EnqueuedAt,
	}
}
