package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// IdempotencyRepository держит ключи в map под мьютексом. Подходит для
// одного инстанса API и тестов.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		keys: make(map[string]domain.IdempotencyRecord),
		now:  time.Now,
	}
}

func (r *IdempotencyRepository) Claim(key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, expiresAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.keys[claim.Key]; ok && held.Live(claim.CreatedAt) {
		return copyRecord(held), held.ClaimConflict(claim.RequestHash)
	}
	r.keys[claim.Key] = claim
	return copyRecord(claim), nil
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.keys[key]
	if !ok || !held.Live(r.now().UTC()) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(held), nil
}

func (r *IdempotencyRepository) Settle(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	if !status.Settled() {
		return domain.ErrIdempotencyUnsettledStatus
	}
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	r.keys[key] = held.Settle(status, responseBody, httpStatus, r.now())
	return nil
}

func (r *IdempotencyRepository) Release(key string) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
	return nil
}

func (r *IdempotencyRepository) PurgeExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for key, held := range r.keys {
		if limit > 0 && purged == limit {
			break
		}
		if held.Live(before) {
			continue
		}
		delete(r.keys, key)
		purged++
	}
	return purged, nil
}

// Len возвращает число записей, включая истёкшие, но ещё не удалённые.
func (r *IdempotencyRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	src.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return src
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
