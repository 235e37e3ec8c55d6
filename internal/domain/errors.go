package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound - запрошенная сущность (клиент, вариант, складская запись, заказ) отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock - спрос по варианту превышает доступный остаток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConstraintViolation - запись нарушила бы инвариант хранилища (например, отрицательный остаток).
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInvalidRequest - запрос не прошёл проверку формы.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrOperational - сбой хранилища или таймаут; транзакция откатывается, повтор на стороне клиента.
	ErrOperational = errors.New("operational failure")

	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrInvalidRequest)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be greater than zero", ErrInvalidRequest)
	// Ошибка при количестве выше MaxLineQuantity.
	ErrItemQtyTooLarge = fmt.Errorf("%w: item quantity exceeds the per-line limit", ErrInvalidRequest)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: price_at_purchase must be non-negative", ErrInvalidRequest)
	// Ошибка некорректного процента скидки.
	ErrDiscountRateInvalid = fmt.Errorf("%w: discount_rate must be between 0 and 100", ErrInvalidRequest)
	// Ошибка отрицательной суммы скидки.
	ErrDiscountAmountInvalid = fmt.Errorf("%w: discount_amount must be non-negative", ErrInvalidRequest)
	// Ошибка некорректного идентификатора варианта.
	ErrVariantIDInvalid = fmt.Errorf("%w: variant_id must be positive", ErrInvalidRequest)
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = fmt.Errorf("%w: order_total_amount must be non-negative", ErrInvalidRequest)
	// Ошибка отсутствующего автора заказа.
	ErrCreatedByRequired = fmt.Errorf("%w: created_by is required", ErrInvalidRequest)
	// Ошибка некорректного идентификатора клиента.
	ErrCustomerIDInvalid = fmt.Errorf("%w: customer_id must be positive", ErrInvalidRequest)
	// Ошибка неизвестного статуса заказа.
	ErrOrderStatusInvalid = fmt.Errorf("%w: unknown order_status", ErrInvalidRequest)

	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired - пустой или слишком длинный idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyUnsettledStatus - Settle вызван со статусом processing.
	ErrIdempotencyUnsettledStatus = errors.New("idempotency status must be done or failed")
	// ErrIdempotencyRequestHashRequired - пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists - ключ уже занят другим (или тем же) запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch - ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound - ключ не найден или истёк.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// Имена сущностей для NotFoundError.
const (
	EntityCustomer  = "customer"
	EntityVariant   = "product variant"
	EntityInventory = "inventory record"
	EntityOrder     = "order"
)

// NotFoundError указывает, какая именно сущность не найдена.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound создаёт NotFoundError.
func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// StockError описывает нехватку остатка по варианту.
type StockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Operational оборачивает сбой инфраструктуры в ErrOperational.
// Уже классифицированные ошибки возвращаются как есть.
func Operational(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsOperational(err) || IsNotFound(err) || IsInsufficientStock(err) ||
		IsConstraintViolation(err) || IsInvalidRequest(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrOperational, op, err)
}

// IsNotFound проверяет, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInsufficientStock проверяет нехватку остатка.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// IsConstraintViolation проверяет нарушение инварианта хранилища.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// IsInvalidRequest проверяет ошибку валидации запроса.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsOperational проверяет сбой инфраструктуры.
func IsOperational(err error) bool {
	return errors.Is(err, ErrOperational)
}

// IsIdempotencyConflict проверяет конфликт по idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
