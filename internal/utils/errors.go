package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError wraps a failed operation, the step that failed and its cause.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// StatusError is a non-2xx answer from an upstream HTTP API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.Code)
	if e.Message == "" {
		return fmt.Sprintf("upstream returned %d %s", e.Code, text)
	}
	return fmt.Sprintf("upstream returned %d %s: %s", e.Code, text, e.Message)
}

// StatusCode returns the upstream HTTP status carried anywhere in err's chain,
// or 0 when there is none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
