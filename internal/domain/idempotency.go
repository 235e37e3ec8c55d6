package domain

import (
	"strings"
	"time"
)

const (
	// IdempotencyKeyMaxLength ограничивает длину заголовка Idempotency-Key.
	IdempotencyKeyMaxLength = 255
	// DefaultIdempotencyTTL применяется, когда срок жизни ключа не задан.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// IdempotencyStatus - стадия обработки запроса, захватившего ключ.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid сообщает, известен ли статус.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s.Settled()
}

// Settled истинен для статусов, после которых ответ можно отдавать повторно.
func (s IdempotencyStatus) Settled() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyOutcome определяет, что делать с ключом после ответа с HTTP-кодом status.
// Успех сохраняется как done, отказ клиенту как failed.
// Для 5xx release=true: ключ освобождается, чтобы клиент мог повторить запрос.
func IdempotencyOutcome(httpStatus int) (status IdempotencyStatus, release bool) {
	switch {
	case httpStatus >= 500 || httpStatus <= 0:
		return "", true
	case httpStatus >= 400:
		return IdempotencyStatusFailed, false
	default:
		return IdempotencyStatusDone, false
	}
}

// IdempotencyRecord - захваченный ключ вместе с закэшированным ответом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeIdempotencyKey обрезает пробелы и проверяет длину ключа.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > IdempotencyKeyMaxLength {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// NewIdempotencyClaim готовит запись processing для нового захвата ключа.
// Нулевой expiresAt заменяется на now+DefaultIdempotencyTTL.
func NewIdempotencyClaim(key, requestHash string, expiresAt, now time.Time) (IdempotencyRecord, error) {
	key, err := NormalizeIdempotencyKey(key)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}

	now = now.UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultIdempotencyTTL)
	}

	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Live сообщает, держит ли запись ключ в момент now. Истёкшая запись свободна
// даже если её ещё не удалил cleanup-воркер.
func (r IdempotencyRecord) Live(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// ClaimConflict возвращает ошибку повторного захвата ключа запросом с хешем requestHash.
func (r IdempotencyRecord) ClaimConflict(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Replayable истинен, когда сохранённый ответ можно вернуть без повторной обработки.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status.Settled() && r.HTTPStatus > 0 && len(r.ResponseBody) > 0
}

// Settle фиксирует ответ в записи.
func (r IdempotencyRecord) Settle(status IdempotencyStatus, body []byte, httpStatus int, now time.Time) IdempotencyRecord {
	r.Status = status
	r.ResponseBody = append([]byte(nil), body...)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = now.UTC()
	return r
}
