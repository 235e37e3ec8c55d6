package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const opTimeout = 5 * time.Second

// OutboxRepository читает и закрывает события outbox_messages для воркера публикации.
// Запись событий идёт через outboxWriter внутри транзакции заказа.
type OutboxRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewOutboxRepository создаёт репозиторий поверх пула Store.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.db, now: time.Now}
}

type outboxRow struct {
	ID            string    `db:"id"`
	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
}

func (row outboxRow) toDomain() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            row.ID,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		EventType:     row.EventType,
		Payload:       row.Payload,
		CreatedAt:     row.CreatedAt.UTC(),
	}
}

const insertOutboxSQL = `
	INSERT INTO outbox_messages (
		id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at
	) VALUES (
		:id, :aggregate_type, :aggregate_id, :event_type, :payload, :status, 0, :created_at, :created_at
	)`

// insertOutboxMessage пишет событие через db. Внутри транзакции заказа
// событие фиксируется вместе с заказом или не фиксируется вовсе.
func insertOutboxMessage(ctx context.Context, db sqlx.ExtContext, msg domain.OutboxMessage, now time.Time) (domain.OutboxMessage, error) {
	msg = msg.Stamped(now)
	_, err := sqlx.NamedExecContext(ctx, db, insertOutboxSQL, outboxRow{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		Status:        string(domain.OutboxStatusPending),
		CreatedAt:     msg.CreatedAt,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.EventType, err)
	}
	return msg, nil
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return insertOutboxMessage(ctx, r.db, msg, r.now())
}

func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rows []outboxRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, created_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, string(domain.OutboxStatusPending), limit); err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}

	out := make([]domain.OutboxMessage, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var row struct {
		Pending int          `db:"pending"`
		Oldest  sql.NullTime `db:"oldest"`
	}
	if err := r.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS pending, MIN(created_at) AS oldest
		FROM outbox_messages
		WHERE status = $1`, string(domain.OutboxStatusPending)); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog stats: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: row.Pending}
	if row.Oldest.Valid {
		stats.OldestPendingAt = row.Oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.finish(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.finish(id, domain.OutboxStatusFailed)
}

func (r *OutboxRepository) finish(id string, status domain.OutboxStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`, id, string(status), r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	} else if n == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
