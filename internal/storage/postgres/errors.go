package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Коды SQLSTATE, которые сервис различает.
const (
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
	pgQueryCanceled       = "57014"
	pgDeadlockDetected    = "40P01"
	pgSerialization       = "40001"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify переводит ошибку драйвера в доменную таксономию.
// Нарушение CHECK означает попытку записать отрицательный остаток или баланс.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch pgErrorCode(err) {
	case pgCheckViolation:
		return fmt.Errorf("%w: %s: %w", domain.ErrConstraintViolation, op, err)
	case pgLockNotAvailable, pgQueryCanceled, pgDeadlockDetected, pgSerialization,
		pgForeignKeyViolation, pgUniqueViolation:
		return fmt.Errorf("%w: %s: %w", domain.ErrOperational, op, err)
	}
	return domain.Operational(op, err)
}
