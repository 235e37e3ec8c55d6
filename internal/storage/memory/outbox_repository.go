package memory

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

type outboxEntry struct {
	msg      domain.OutboxMessage
	status   domain.OutboxStatus
	attempts int
}

// OutboxRepository - outbox в памяти. Транзакции Store пишут в него только
// после успешного Commit.
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]*outboxEntry
	now     func() time.Time
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: make(map[string]*outboxEntry), now: time.Now}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg = msg.Stamped(r.now())
	r.append(msg)
	return msg, nil
}

func (r *OutboxRepository) append(msgs ...domain.OutboxMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.entries[msg.ID] = &outboxEntry{msg: msg, status: domain.OutboxStatusPending}
	}
}

// PullPending отдаёт до limit ожидающих событий, старые первыми.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	pending := r.Pending()
	return pending[:min(limit, len(pending))], nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	pending := r.Pending()
	if len(pending) == 0 {
		return domain.OutboxStats{}, nil
	}
	return domain.OutboxStats{PendingCount: len(pending), OldestPendingAt: pending[0].CreatedAt}, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.finish(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.finish(id, domain.OutboxStatusFailed)
}

func (r *OutboxRepository) finish(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	entry.status = status
	entry.attempts++
	return nil
}

// Pending возвращает копию очереди в порядке публикации.
func (r *OutboxRepository) Pending() []domain.OutboxMessage {
	r.mu.Lock()
	out := make([]domain.OutboxMessage, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.status == domain.OutboxStatusPending {
			out = append(out, entry.msg)
		}
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.OutboxMessage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Status сообщает состояние события и число попыток публикации.
func (r *OutboxRepository) Status(id string) (domain.OutboxStatus, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return "", 0, false
	}
	return entry.status, entry.attempts, true
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
