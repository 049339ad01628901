package errorx

import (
	"errors"
	"fmt"
)

type Error struct {
	Code    Code
	Message string
}

func (e Error) Error() string {
	return e.Message
}

func New(code Code, format string, a ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Retryable reports whether the caller may reasonably retry the operation
// that produced err.
func Retryable(err error) bool {
	var xerr Error
	if !errors.As(err, &xerr) {
		return false
	}

	switch xerr.Code {
	case Unavailable, ConnectionClosed, Timeout:
		return true
	}

	return false
}
