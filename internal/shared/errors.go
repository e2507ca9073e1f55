package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure so transports can map it without knowing every sentinel.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindStateConflict Kind = "state_conflict"
	KindReference     Kind = "reference"
	KindConcurrency   Kind = "concurrency"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Error is a categorised domain error. Sentinels are declared as *Error values and
// callers add context with fmt.Errorf("%w: ...").
type Error struct {
	Kind Kind
	Msg  string
}

// NewError builds a categorised sentinel.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

// KindOf returns the category of err, or KindInternal when it carries none.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindInternal
}

// Is reports whether err belongs to the given category.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NewError(KindNotFound, "not found")
	// ErrDuplicateRequest occurs when an idempotency key was already consumed.
	ErrDuplicateRequest = NewError(KindStateConflict, "idempotent request already processed")
)

// Validationf returns an ad-hoc validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}
