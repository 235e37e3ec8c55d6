package httpsvc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
)

// withIdempotency выполняет run не более одного раза на ключ. Судьба ключа
// после ответа определяется domain.IdempotencyOutcome.
func (h *Handler) withIdempotency(w http.ResponseWriter, r *http.Request, rawKey string, body []byte, run func() (int, any)) {
	key, err := domain.NormalizeIdempotencyKey(rawKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid Idempotency-Key header", Code: codeInvalidRequest})
		return
	}
	logger := loggerFrom(r.Context(), h.logger).WithField("idempotency_key", key)

	held, err := h.idem.Claim(key, requestHash(r.Method, r.URL.Path, body), h.now().UTC().Add(h.idemTTL))
	if err != nil {
		h.answerHeldKey(w, logger, held, err)
		return
	}

	status, payload := run()
	data, encErr := encode(payload)
	if encErr != nil {
		status = http.StatusInternalServerError
	}

	if settled, release := domain.IdempotencyOutcome(status); release {
		if err := h.idem.Release(key); err != nil {
			logger.WithError(err).Warn("failed to release idempotency key")
		}
	} else if err := h.idem.Settle(key, settled, data, status); err != nil {
		logger.WithError(err).WithField("status", settled).Warn("failed to cache idempotent response")
	}

	if encErr != nil {
		writeJSON(w, status, errorBody{Error: internalErrorMessage, Code: codeOperational})
		return
	}
	writeRaw(w, status, data)
}

// answerHeldKey отвечает на запрос, чей ключ уже занят.
func (h *Handler) answerHeldKey(w http.ResponseWriter, logger *log.Entry, held domain.IdempotencyRecord, claimErr error) {
	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusConflict, errorBody{
			Error: "idempotency key is already used with a different request payload",
			Code:  codeIdempotencyConflict,
		})
	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists) && held.Replayable():
		w.Header().Set(idempotencyReplayHeader, "true")
		writeRaw(w, held.HTTPStatus, held.ResponseBody)
	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists) && held.Status == domain.IdempotencyStatusProcessing:
		writeJSON(w, http.StatusConflict, errorBody{
			Error: "request with the same idempotency key is already processing",
			Code:  codeIdempotencyInFlight,
		})
	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists):
		logger.WithField("status", held.Status).Error("idempotency record has no cached response")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: internalErrorMessage, Code: codeOperational})
	case errors.Is(claimErr, domain.ErrIdempotencyKeyRequired):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid Idempotency-Key header", Code: codeInvalidRequest})
	default:
		logger.WithError(claimErr).Warn("failed to claim idempotency key")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: internalErrorMessage, Code: codeOperational})
	}
}

// requestHash связывает ключ с методом, путём и телом запроса.
func requestHash(method, path string, body []byte) string {
	sum := sha256.New()
	for _, part := range [][]byte{[]byte(method), []byte(path), body} {
		sum.Write(part)
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}
