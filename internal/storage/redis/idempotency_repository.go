// Package redis хранит ключи идемпотентности HTTP API в Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const (
	defaultKeyPrefix = "backoffice:idem:"
	opTimeout        = 2 * time.Second
)

// Config описывает подключение к Redis.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Open создаёт клиента и проверяет доступность сервера.
func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// IdempotencyRepository хранит каждый ключ как JSON-строку. Истечение
// выполняет сам Redis через EXPIREAT, поэтому PurgeExpired ничего не делает.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий. Пустой keyPrefix заменяется на backoffice:idem:.
func NewIdempotencyRepository(client goredis.UniversalClient, keyPrefix string) *IdempotencyRepository {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &IdempotencyRepository{client: client, prefix: keyPrefix, now: time.Now}
}

// storedRecord - значение ключа в Redis.
type storedRecord struct {
	RequestHash  string                   `json:"request_hash"`
	Status       domain.IdempotencyStatus `json:"status"`
	HTTPStatus   int                      `json:"http_status,omitempty"`
	ResponseBody []byte                   `json:"response_body,omitempty"`
	ExpiresAt    time.Time                `json:"expires_at"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

func fromDomain(rec domain.IdempotencyRecord) storedRecord {
	return storedRecord{
		RequestHash:  rec.RequestHash,
		Status:       rec.Status,
		HTTPStatus:   rec.HTTPStatus,
		ResponseBody: rec.ResponseBody,
		ExpiresAt:    rec.ExpiresAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (v storedRecord) toDomain(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  v.RequestHash,
		Status:       v.Status,
		HTTPStatus:   v.HTTPStatus,
		ResponseBody: append([]byte(nil), v.ResponseBody...),
		ExpiresAt:    v.ExpiresAt,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

// Claim пишет ключ через SET NX EXAT: из конкурирующих запросов выигрывает один.
func (r *IdempotencyRepository) Claim(key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, expiresAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	raw, err := json.Marshal(fromDomain(claim))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("encode idempotency key: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err = r.client.SetArgs(ctx, r.prefix+claim.Key, raw, goredis.SetArgs{Mode: "NX", ExpireAt: claim.ExpiresAt}).Err()
	if err == nil {
		return claim, nil
	}
	if !errors.Is(err, goredis.Nil) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	held, err := r.load(ctx, claim.Key)
	if err != nil {
		// Ключ истёк между SET NX и GET: клиент может повторить запрос.
		return domain.IdempotencyRecord{}, fmt.Errorf("load held idempotency key: %w", err)
	}
	return held, held.ClaimConflict(claim.RequestHash)
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.load(ctx, key)
}

// Settle перезаписывает значение с KEEPTTL, срок жизни ключа не меняется.
func (r *IdempotencyRepository) Settle(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	if !status.Settled() {
		return domain.ErrIdempotencyUnsettledStatus
	}
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	held, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(fromDomain(held.Settle(status, responseBody, httpStatus, r.now())))
	if err != nil {
		return fmt.Errorf("encode idempotency key: %w", err)
	}

	err = r.client.SetArgs(ctx, r.prefix+key, raw, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("settle idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Release(key string) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) PurgeExpired(time.Time, int) (int, error) {
	return 0, nil
}

func (r *IdempotencyRepository) load(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency key %s: %w", key, err)
	}
	if !stored.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, stored.Status)
	}
	return stored.toDomain(key), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
