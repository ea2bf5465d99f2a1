// Package apperr defines the error kinds shared by the core services and the
// HTTP layer. Every error returned by a service matches exactly one kind with
// errors.Is; the HTTP layer maps kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Error string

func (e Error) Error() string {
	return string(e)
}

// 错误类型
const (
	ErrValidation Error = "validation error"
	ErrConflict   Error = "conflict"
	ErrAuth       Error = "access denied"
	ErrNotFound   Error = "not found"
	ErrExpired    Error = "expired"
	ErrUsed       Error = "already used"
	ErrStorage    Error = "storage error"
)

// detailed carries a caller-facing message while still matching its kind.
type detailed struct {
	kind  Error
	msg   string
	cause error
}

func (d *detailed) Error() string {
	if d.cause != nil {
		return fmt.Sprintf("%s: %v", d.msg, d.cause)
	}
	return d.msg
}

func (d *detailed) Is(target error) bool {
	return target == d.kind
}

func (d *detailed) Unwrap() error {
	return d.cause
}

// New returns an error of the given kind with a specific message.
func New(kind Error, msg string) error {
	return &detailed{kind: kind, msg: msg}
}

// Newf is New with formatting.
func Newf(kind Error, format string, args ...any) error {
	return &detailed{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a blob store failure. The message is never shown to clients.
func Storage(op string, err error) error {
	return &detailed{kind: ErrStorage, msg: op, cause: err}
}

// KindOf reports the kind of err, defaulting to ErrStorage for anything that
// did not originate from this package.
func KindOf(err error) Error {
	for _, k := range []Error{ErrValidation, ErrConflict, ErrAuth, ErrNotFound, ErrExpired, ErrUsed, ErrStorage} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrStorage
}

// Message returns the text safe to show a client.
func Message(err error) string {
	var d *detailed
	if errors.As(err, &d) && d.kind != ErrStorage {
		return d.msg
	}
	kind := KindOf(err)
	if kind == ErrStorage {
		return "internal server error"
	}
	return string(kind)
}

// Wrap passes errors that already carry a kind through unchanged and marks
// anything else as a storage failure of op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != ErrStorage {
		return err
	}
	return Storage(op, err)
}
