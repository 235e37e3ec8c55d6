package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{name: "not found struct", err: NewNotFound(EntityCustomer, 7), check: IsNotFound, want: true},
		{name: "wrapped not found", err: fmt.Errorf("load: %w", NewNotFound(EntityVariant, 1)), check: IsNotFound, want: true},
		{name: "stock error", err: &StockError{VariantID: 1, Requested: 2, Available: 1}, check: IsInsufficientStock, want: true},
		{name: "stock error is not not-found", err: &StockError{VariantID: 1}, check: IsNotFound, want: false},
		{name: "validation sentinel", err: ErrItemsRequired, check: IsInvalidRequest, want: true},
		{name: "constraint", err: fmt.Errorf("%w: boom", ErrConstraintViolation), check: IsConstraintViolation, want: true},
		{name: "nil error", err: nil, check: IsOperational, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("classification = %v, want %v (err=%v)", got, tt.want, tt.err)
			}
		})
	}
}

func TestNotFoundErrorDetails(t *testing.T) {
	var nf *NotFoundError
	err := fmt.Errorf("ctx: %w", NewNotFound(EntityVariant, 42))
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError in chain, got %v", err)
	}
	if nf.Entity != EntityVariant || nf.ID != 42 {
		t.Fatalf("unexpected details %+v", nf)
	}
	if nf.Error() != "product variant 42 not found" {
		t.Fatalf("unexpected message %q", nf.Error())
	}
}

func TestOperational(t *testing.T) {
	if Operational("op", nil) != nil {
		t.Fatal("nil must stay nil")
	}

	raw := errors.New("connection reset")
	err := Operational("commit", raw)
	if !IsOperational(err) || !errors.Is(err, raw) {
		t.Fatalf("expected operational wrapper around cause, got %v", err)
	}

	nf := NewNotFound(EntityOrder, 1)
	if got := Operational("load", nf); got != nf {
		t.Fatalf("classified errors must pass through, got %v", got)
	}
	if got := Operational("again", err); got != err {
		t.Fatalf("operational errors must not be double wrapped, got %v", got)
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	conflicts := []error{
		ErrIdempotencyKeyAlreadyExists,
		ErrIdempotencyHashMismatch,
		errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
	}
	for _, err := range conflicts {
		if !IsIdempotencyConflict(err) {
			t.Errorf("%v must be a conflict", err)
		}
	}
	for _, err := range []error{nil, ErrNotFound, ErrIdempotencyKeyNotFound} {
		if IsIdempotencyConflict(err) {
			t.Errorf("%v must not be a conflict", err)
		}
	}
}
