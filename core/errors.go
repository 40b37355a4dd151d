package core

import "github.com/pkg/errors"

// ErrNotFound is returned by repositories when the requested record does not exist.
var ErrNotFound error = &notFound{message: "not found"}

type notFound struct {
	message string
}

// NewNotFoundError returns a root sentinel for a missing record of a given kind.
// Each call yields a distinct error, comparable with errors.Cause, that IsNotFound still recognizes.
func NewNotFoundError(msg string) error {
	return &notFound{message: msg}
}

func (nf notFound) Error() string {
	return nf.message
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

// IsNotFound reports whether err (or its cause) is a not found error.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*notFound)
	return ok
}
