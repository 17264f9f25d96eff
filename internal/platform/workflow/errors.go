// Package workflow holds the pieces shared by every engine: the error
// taxonomy returned to callers and the outbound intents an engine emits
// instead of calling its neighbours directly.
package workflow

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a recoverable engine failure.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindValidationFailed  Kind = "validation_failed"
	KindExpired           Kind = "expired"
	KindExceedsBalance    Kind = "exceeds_balance"
)

// Error is a typed, recoverable-by-caller engine failure. Storage faults
// and broken internal invariants are NOT represented here; they propagate
// as plain wrapped errors and abort the enclosing transaction.
type Error struct {
	Kind    Kind
	Entity  string
	Message string
	// From/To carry the current and attempted status for transition errors.
	From string
	To   string
}

func (e *Error) Error() string {
	if e.Kind == KindInvalidTransition {
		return fmt.Sprintf("%s: invalid transition %s -> %s", e.Entity, e.From, e.To)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s", e.Entity, e.Message)
	}
	return e.Message
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Message: fmt.Sprintf("%s not found", id)}
}

func Forbidden(entity, msg string) *Error {
	return &Error{Kind: KindForbidden, Entity: entity, Message: msg}
}

func InvalidTransition(entity, from, to string) *Error {
	return &Error{Kind: KindInvalidTransition, Entity: entity, From: from, To: to}
}

func Conflict(entity, msg string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Message: msg}
}

func ValidationFailed(entity, msg string) *Error {
	return &Error{Kind: KindValidationFailed, Entity: entity, Message: msg}
}

func Expired(entity, msg string) *Error {
	return &Error{Kind: KindExpired, Entity: entity, Message: msg}
}

func ExceedsBalance(entity, msg string) *Error {
	return &Error{Kind: KindExceedsBalance, Entity: entity, Message: msg}
}

// KindOf returns the taxonomy kind of err, or "" for untyped (internal)
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an engine error to the status code the HTTP surface
// reports. Untyped errors are treated as internal.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidTransition:
		return http.StatusConflict
	case KindConflict:
		return http.StatusConflict
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindExpired:
		return http.StatusGone
	case KindExceedsBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
