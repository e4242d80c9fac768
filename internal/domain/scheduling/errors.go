package scheduling

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation. The HTTP layer maps each kind to a
// status code.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindForbidden  Kind = "FORBIDDEN"
	KindBadRequest Kind = "BAD_REQUEST"
	KindConflict   Kind = "CONFLICT"
	KindFailed     Kind = "FAILED"
)

// ErrDuplicate is returned by stores when a partial unique index rejects a
// write: an open appointment or an active work day already exists.
var ErrDuplicate = errors.New("duplicate active row")

// Error is the only failure type that leaves the booking and schedule
// services.
type Error struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindFailed for anything that is not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFailed
}

func notFound(field, msg string) *Error {
	return &Error{Kind: KindNotFound, Field: field, Message: msg}
}

func forbidden(field, msg string) *Error {
	return &Error{Kind: KindForbidden, Field: field, Message: msg}
}

func badRequest(field, msg string) *Error {
	return &Error{Kind: KindBadRequest, Field: field, Message: msg}
}

func conflict(field, msg string) *Error {
	return &Error{Kind: KindConflict, Field: field, Message: msg}
}

func failed(msg string, err error) *Error {
	return &Error{Kind: KindFailed, Message: msg, Err: err}
}
