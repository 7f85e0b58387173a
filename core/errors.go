package core

import "github.com/pkg/errors"

// FieldError attaches an error message to a named request field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a client-facing error. The API layer renders Fields as
// a field-to-message map when present, otherwise the bare message.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func (err ValidationError) Unwrap() error { return err.Err }

type shutdown struct {
	message string
}

// NewShutdownError returns an error that signals the API server to initiate
// a graceful shutdown (used for integrity issues that require a restart).
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
