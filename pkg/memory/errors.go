package memory

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure produced by the memory packages unwraps to
// exactly one of these, so callers branch with errors.Is.
var (
	ErrValidation      = errors.New("mnemis: validation error")
	ErrAccessViolation = errors.New("mnemis: access violation")
	ErrNotFound        = errors.New("mnemis: not found")
)

// Error is a tagged failure carrying its kind, the operation that raised it
// and a human readable message.
type Error struct {
	Kind    error
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Validationf returns an ErrValidation-kinded error.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// AccessViolationf returns an ErrAccessViolation-kinded error.
func AccessViolationf(op, format string, args ...any) error {
	return &Error{Kind: ErrAccessViolation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf returns an ErrNotFound-kinded error.
func NotFoundf(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports which error kind err belongs to, or nil when err is not a
// memory error (for example a wrapped I/O failure).
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrAccessViolation, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
