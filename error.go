package canproxy

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrInvalidID      = errors.New("invalid identifier")
	ErrInvalidLength  = errors.New("invalid data length")
	ErrNoSeparator    = errors.New("line has no '#' separator")
	ErrMalformedLine  = errors.New("malformed line")
	ErrOddLength      = fmt.Errorf("%w: odd payload length", ErrMalformedLine)
	ErrLineTooLong    = errors.New("line exceeds maximum length")
	ErrConfigRejected = errors.New("server rejected config")
	ErrUnknownAdapter = errors.New("unknown adapter")
	ErrAdapterClosed  = errors.New("adapter closed")
	ErrNilAdapter     = errors.New("adapter is nil")
)
