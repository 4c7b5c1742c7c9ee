// Package errors provides application error types for the stats pipeline API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned by stores for a missing row.
var ErrNotFound = errors.New("not found")

// notReadyRetryAfter is the Retry-After hint on "not computed yet" answers.
// An on-demand aggregation normally lands well inside it.
const notReadyRetryAfter = 5 * time.Second

// AppError is an error the API renders as {code, message}.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`

	// RetryAfter, when set, is sent as a Retry-After header. Only
	// "not ready" errors carry it: the client asked too early, not wrongly.
	RetryAfter time.Duration `json:"-"`

	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotReady reports whether the error means "stats not computed yet" as
// opposed to "no such thing" or a failure.
func (e *AppError) NotReady() bool {
	return e.RetryAfter > 0
}

// New creates a new AppError.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap attaches cause to a new AppError.
func Wrap(cause error, code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Err: cause}
}

// NotFound creates a 404 error.
func NotFound(code, message string) *AppError {
	return New(code, message, http.StatusNotFound)
}

// BadRequest creates a 400 error.
func BadRequest(code, message string) *AppError {
	return New(code, message, http.StatusBadRequest)
}

func notReady(code, message string) *AppError {
	e := New(code, message, http.StatusServiceUnavailable)
	e.RetryAfter = notReadyRetryAfter
	return e
}

// IsAppError returns the AppError in err's chain, if any.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
