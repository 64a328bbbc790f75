// Package apperr is the booking error taxonomy. Every error that crosses a package
// boundary towards the HTTP layer carries one of these kinds.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuthentication    Kind = "authentication"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindTransientProvider Kind = "transient_provider"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindRetryExhausted    Kind = "retry_exhausted"
	KindInternal          Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.NotFound("")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Authentication(err error, message string) *Error {
	return Wrap(err, KindAuthentication, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, "%s", message)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Transient(err error, message string) *Error {
	return Wrap(err, KindTransientProvider, message)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func RetryExhausted(format string, args ...any) *Error {
	return New(KindRetryExhausted, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient is the retry classifier for provider calls.
func IsTransient(err error) bool {
	return IsKind(err, KindTransientProvider)
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientProvider:
		return http.StatusServiceUnavailable
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindRetryExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides internal error detail from API callers.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
