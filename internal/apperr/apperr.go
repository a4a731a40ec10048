package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies a failure so callers can react without inspecting driver errors.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindAuthorization      Kind = "authorization"
	KindConflict           Kind = "conflict"
	KindExternalService    Kind = "external_service"
	KindTransactionAborted Kind = "transaction_aborted"
	KindInternal           Kind = "internal"
)

// Error carries a kind plus an "operation.reason" code.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return e.Code()
	}
	return fmt.Sprintf("%s: %v", e.Code(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the stable operation.reason identifier.
func (e *Error) Code() string {
	return fmt.Sprintf("%s.%s", e.Op, e.Reason)
}

// New builds an Error of the given kind.
func New(kind Kind, op, reason string, cause error) error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: cause}
}

func Validation(op, reason string, cause error) error {
	return New(KindValidation, op, reason, cause)
}

func NotFound(op, reason string, cause error) error {
	return New(KindNotFound, op, reason, cause)
}

func Forbidden(op, reason string, cause error) error {
	return New(KindAuthorization, op, reason, cause)
}

func Conflict(op, reason string, cause error) error {
	return New(KindConflict, op, reason, cause)
}

func External(op, reason string, cause error) error {
	return New(KindExternalService, op, reason, cause)
}

func Aborted(op, reason string, cause error) error {
	return New(KindTransactionAborted, op, reason, cause)
}

func Internal(op, reason string, cause error) error {
	return New(KindInternal, op, reason, cause)
}

// KindOf extracts the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err (or anything it wraps) is an Error of kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return nil, false
	}
	return appErr, true
}

// MapStore classifies a persistence failure. Errors that are already
// classified pass through unchanged.
func MapStore(op, reason string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(op, reason, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Conflict(op, reason, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Internal(op, reason, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.TrimSpace(pgErr.Code) == "23505" {
		return Conflict(op, reason, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate key") {
		return Conflict(op, reason, err)
	}
	return Internal(op, reason, err)
}

// IsUniqueViolation reports whether err is a unique-index violation from either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate key")
}
