package api

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Error is a protocol-level error: the server answered with a non-2xx
// status. Transport errors never carry an Error, so a caller can tell
// the two apart by looking for a status code.
type Error struct {
	StatusCode int    `json:"-"`
	Detail     string `json:"detail"`
}

// Error returns a string for the error and satisfies the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP error %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Detail)
}

// StatusCodeOf digs a protocol status code out of err, or 0 if err has
// none (e.g. a pure transport error).
func StatusCodeOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a protocol error with status 404.
func IsNotFound(err error) bool {
	return StatusCodeOf(err) == 404
}

// DecodeError means a response body could not be parsed as JSON when
// JSON was expected. It is distinct from a transport error: the HTTP
// exchange itself succeeded.
type DecodeError struct {
	Err error
}

// Error satisfies the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("couldn't decode JSON response: %v", e.Err)
}

// Unwrap returns the underlying parse error.
func (e *DecodeError) Unwrap() error { return e.Err }

// TaskError is reported when an asynchronous operation reaches a
// terminal state other than a clean SUCCESS. Result carries the raw
// task result for diagnosis.
type TaskError struct {
	TaskID  string
	Result  *TaskResult
	Partial bool // SUCCESS status but per-item errors present
}

// Error satisfies the error interface.
func (e *TaskError) Error() string {
	if e.Partial {
		return fmt.Sprintf("task %s partially failed: %d item error(s)", e.TaskID, len(e.Result.Errors))
	}
	detail := ""
	if e.Result != nil {
		detail = e.Result.Detail
	}
	if detail == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, detail)
}

// TaskTimeoutError is reported when a task fails to reach a terminal
// state within the poll ceiling. It is fatal and never retried.
type TaskTimeoutError struct {
	TaskID  string
	Elapsed time.Duration
}

// Error satisfies the error interface.
func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s did not finish within %v", e.TaskID, e.Elapsed)
}
