package kafka

import "github.com/vladislavdragonenkov/backoffice/internal/domain"

// Topics для Kafka.
const (
	TopicOrderEvents     = "backoffice.order.events"
	TopicDeadLetterQueue = "backoffice.order.events.dlq"
)

// Заголовки сообщений. Тип события дублируется в заголовке, чтобы
// подписчики могли фильтровать без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
)

// KnownEventType сообщает, публикует ли сервис события такого типа.
func KnownEventType(eventType string) bool {
	switch eventType {
	case domain.EventOrderPlaced, domain.EventInventoryLowStock:
		return true
	default:
		return false
	}
}
