// Package apperr defines the error kinds surfaced by the order core. Every kind
// carries a stable machine-readable code and a message that is safe to show to
// callers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindTransaction       Kind = "TRANSACTION_FAILED"
	KindInvalidStatus     Kind = "INVALID_STATUS"
	KindForbidden         Kind = "FORBIDDEN"
	KindInternal          Kind = "INTERNAL_ERROR"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// TransactionError marks an infrastructure failure of an atomic unit. Nothing
// from the attempt was persisted and the whole request may be retried.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func Transaction(op string, err error) error {
	return &TransactionError{Op: op, Err: err}
}

type InvalidStatusError struct {
	From string
	To   string
}

func (e *InvalidStatusError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("unrecognized order status %q", e.To)
	}
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return "not authorized to " + e.Action
}

func Forbidden(action string) error {
	return &ForbiddenError{Action: action}
}

// KindOf reports the kind of err, falling back to KindInternal.
func KindOf(err error) Kind {
	var (
		validation    *ValidationError
		notFound      *NotFoundError
		stock         *InsufficientStockError
		txErr         *TransactionError
		invalidStatus *InvalidStatusError
		forbidden     *ForbiddenError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &stock):
		return KindInsufficientStock
	case errors.As(err, &invalidStatus):
		return KindInvalidStatus
	case errors.As(err, &forbidden):
		return KindForbidden
	case errors.As(err, &txErr):
		return KindTransaction
	default:
		return KindInternal
	}
}

// IsDomain reports whether err is one of the business outcomes above, as
// opposed to an infrastructure failure.
func IsDomain(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInsufficientStock, KindInvalidStatus, KindForbidden:
		return true
	}
	return false
}
