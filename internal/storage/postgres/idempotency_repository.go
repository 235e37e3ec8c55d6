package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// IdempotencyRepository хранит ключи в таблице idempotency_keys.
// Захват ключа атомарен благодаря первичному ключу и ON CONFLICT.
type IdempotencyRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх пула Store.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{db: store.db, now: time.Now}
}

type idempotencyRow struct {
	Key          string        `db:"key"`
	RequestHash  string        `db:"request_hash"`
	Status       string        `db:"status"`
	HTTPStatus   sql.NullInt64 `db:"http_status"`
	ResponseBody []byte        `db:"response_body"`
	ExpiresAt    time.Time     `db:"expires_at"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

const idempotencyColumns = `key, request_hash, status, http_status, response_body, expires_at, created_at, updated_at`

func (row idempotencyRow) toDomain() (domain.IdempotencyRecord, error) {
	status := domain.IdempotencyStatus(row.Status)
	if !status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", row.Key, row.Status)
	}
	return domain.IdempotencyRecord{
		Key:          row.Key,
		RequestHash:  row.RequestHash,
		Status:       status,
		HTTPStatus:   int(row.HTTPStatus.Int64),
		ResponseBody: append([]byte(nil), row.ResponseBody...),
		ExpiresAt:    row.ExpiresAt.UTC(),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}

// Claim вставляет запись processing. Истёкшая запись с тем же ключом
// перезаписывается, живая остаётся нетронутой.
func (r *IdempotencyRepository) Claim(key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, expiresAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var row idempotencyRow
	err = r.db.GetContext(ctx, &row, `
		INSERT INTO idempotency_keys (key, request_hash, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    status = EXCLUDED.status,
		    http_status = NULL,
		    response_body = NULL,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING `+idempotencyColumns,
		claim.Key, claim.RequestHash, string(claim.Status), claim.ExpiresAt, claim.CreatedAt,
	)
	if err == nil {
		return row.toDomain()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	held, err := r.Get(claim.Key)
	if err != nil {
		// Запись истекла между INSERT и SELECT.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
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

	var row idempotencyRow
	err = r.db.GetContext(ctx, &row,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1 AND expires_at > $2`,
		key, r.now().UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load idempotency key: %w", err)
	}
	return row.toDomain()
}

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

	res, err := r.db.NamedExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = :status, http_status = :http_status, response_body = :response_body, updated_at = :updated_at
		WHERE key = :key`,
		idempotencyRow{
			Key:          key,
			Status:       string(status),
			HTTPStatus:   sql.NullInt64{Int64: int64(httpStatus), Valid: true},
			ResponseBody: responseBody,
			UpdatedAt:    r.now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("settle idempotency key: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("settle idempotency key: %w", err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
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

	if _, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// PurgeExpired удаляет самые старые истёкшие ключи. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) PurgeExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	return int(n), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
