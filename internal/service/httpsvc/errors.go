package httpsvc

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Машиночитаемые коды ошибок в поле "code".
const (
	codeInvalidRequest      = "invalid_request"
	codeNotFound            = "not_found"
	codeInsufficientStock   = "insufficient_stock"
	codeConstraintViolation = "constraint_violation"
	codeOperational         = "operational"
	codeIdempotencyConflict = "idempotency_conflict"
	codeIdempotencyInFlight = "idempotency_in_progress"
)

const internalErrorMessage = "internal error, please retry"

func errFieldRequired(field string) error {
	return fmt.Errorf("%w: %s is required", domain.ErrInvalidRequest, field)
}

// placementStatus сопоставляет ошибку размещения HTTP-статусу.
// Бизнес-отказы размещения отдаются как 400, сбои хранилища как 500.
func placementStatus(err error) (int, errorBody) {
	switch {
	case domain.IsInvalidRequest(err):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: codeInvalidRequest}
	case domain.IsNotFound(err):
		return http.StatusBadRequest, errorBody{Error: notFoundMessage(err), Code: codeNotFound}
	case domain.IsInsufficientStock(err):
		return http.StatusBadRequest, errorBody{Error: stockMessage(err), Code: codeInsufficientStock}
	case domain.IsConstraintViolation(err):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: codeConstraintViolation}
	default:
		return http.StatusInternalServerError, errorBody{Error: internalErrorMessage, Code: codeOperational}
	}
}

// queryStatus сопоставляет ошибку чтения HTTP-статусу.
func queryStatus(err error) (int, errorBody) {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, errorBody{Error: notFoundMessage(err), Code: codeNotFound}
	case domain.IsInvalidRequest(err):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: codeInvalidRequest}
	default:
		return http.StatusInternalServerError, errorBody{Error: internalErrorMessage, Code: codeOperational}
	}
}

func notFoundMessage(err error) string {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nf.Error()
	}
	return domain.ErrNotFound.Error()
}

func stockMessage(err error) string {
	var se *domain.StockError
	if errors.As(err, &se) {
		return se.Error()
	}
	return domain.ErrInsufficientStock.Error()
}
