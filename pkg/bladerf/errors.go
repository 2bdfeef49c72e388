package bladerf

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is to classify an error returned by a Session.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrCapacity      = errors.New("capacity exceeded")
)

// Driver conditions.
var (
	ErrTimePast    = errors.New("requested timestamp is in the past")
	ErrTimeout     = errors.New("operation timed out")
	ErrUnsupported = errors.New("operation not supported")
	ErrClosed      = errors.New("session closed")
)

// StatusError is a driver failure with its native status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Code)
}

// Error is returned by Session operations.
type Error struct {
	Kind error
	Op   string
	// Code is the driver status code for transport errors, zero otherwise.
	Code int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bladerf: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func configError(op string, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

func capacityError(op string, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrCapacity, Op: op, Err: fmt.Errorf(format, args...)}
}

func transportError(op string, err error) *Error {
	code := -1
	var se *StatusError
	if errors.As(err, &se) {
		code = se.Code
	}
	return &Error{Kind: ErrTransport, Op: op, Code: code, Err: err}
}
