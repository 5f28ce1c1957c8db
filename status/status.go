// Package status carries the error codes the libjail API reports to its
// callers. Every public operation returns either nil or an error created
// here; callers branch on the code, so wrapping must never lose it.
package status

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Error is a result with a canonical code and a human readable message.
type Error struct {
	code codes.Code
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Code returns the canonical code of this error.
func (e *Error) Code() codes.Code {
	return e.code
}

// Errorf returns a new error with the given code.
func Errorf(c codes.Code, format string, args ...interface{}) error {
	return &Error{code: c, msg: fmt.Sprintf(format, args...)}
}

// Annotate prefixes err's message with additional context while keeping its
// code. A nil err stays nil. Errors without a code are treated as Internal.
func Annotate(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		code: Code(err),
		msg:  fmt.Sprintf(format, args...) + ": " + message(err),
	}
}

// Code extracts the canonical code from err. A nil error is OK; an error
// created outside this package is Internal since unclassified failures come
// from kernel I/O.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return codes.Internal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, c codes.Code) bool {
	return Code(err) == c
}

func message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.msg
	}
	return err.Error()
}
