package backend

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

var (
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrColumnNotFound      = errors.New("column not found")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
)

// Error carries the classified kind alongside the driver error.
type Error struct {
	Kind       error
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return e.Op + " " + e.Collection + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify maps a driver error onto the backend taxonomy. Unknown failures
// count as unavailability so reads fall back instead of surfacing internals.
func classify(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: kindOf(err), Op: op, Collection: collection, Err: err}
}

func kindOf(err error) error {
	for _, kind := range []error{ErrColumnNotFound, ErrConstraintViolation, ErrForbidden, ErrInvalidInput, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrBackendUnavailable
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, syscall.ECONNREFUSED) {
		return ErrBackendUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqKind(pqErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrBackendUnavailable
	}

	return sqliteKind(err.Error())
}

func pqKind(err *pq.Error) error {
	switch code := string(err.Code); {
	case code == "42703":
		return ErrColumnNotFound
	case strings.HasPrefix(code, "23"):
		return ErrConstraintViolation
	case code == "22P02", code == "22001":
		return ErrInvalidInput
	default:
		// 08 connection, 42P01 missing table, 57P shutdown and the rest.
		return ErrBackendUnavailable
	}
}

func sqliteKind(msg string) error {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "no such column"), strings.Contains(msg, "has no column named"):
		return ErrColumnNotFound
	case strings.Contains(msg, "constraint failed"), strings.Contains(msg, "unique"):
		return ErrConstraintViolation
	default:
		return ErrBackendUnavailable
	}
}
