package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutboxStatus - состояние записи outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed - публикация исчерпала попытки, событие ушло в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// Stamped заполняет ID и CreatedAt, если вызывающий их не задал.
func (m OutboxMessage) Stamped(now time.Time) OutboxMessage {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	return m
}

// Age возвращает, сколько событие ждёт публикации к моменту now.
func (s OutboxStats) Age(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() {
		return 0
	}
	return now.Sub(s.OldestPendingAt)
}
