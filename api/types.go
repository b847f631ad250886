// Package api has type definitions and code related to the wire format
// of the SmartFile API.
package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task status values reported by the task endpoint.
const (
	TaskPending  = "PENDING"
	TaskProgress = "PROGRESS"
	TaskFailure  = "FAILURE"
	TaskSuccess  = "SUCCESS"
)

// Time represents a modification time as reported by the API.
//
// The server emits local ISO 8601 timestamps with no zone designator;
// they are interpreted as UTC so that callers always see UTC epoch
// milliseconds.
type Time time.Time

const timeFormat = "2006-01-02T15:04:05"

// MarshalJSON turns a Time into JSON
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(timeFormat) + `"`), nil
}

// UnmarshalJSON turns JSON into a Time
func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Time(time.Time{})
		return nil
	}
	newT, err := time.ParseInLocation(timeFormat, s, time.UTC)
	if err != nil {
		return err
	}
	*t = Time(newT)
	return nil
}

// Millis returns the time as UTC epoch milliseconds.
func (t Time) Millis() int64 {
	return time.Time(t).UTC().UnixMilli()
}

// PathInfo describes a remote resource.
//
// A directory listing response is a PathInfo for the directory itself
// with the current page of Children attached.
type PathInfo struct {
	Name       string                 `json:"name"`
	Path       string                 `json:"path"`
	IsDir      bool                   `json:"isdir"`
	IsFile     bool                   `json:"isfile"`
	Size       int64                  `json:"size"`
	Time       Time                   `json:"time"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// Listing fields, only present when children were requested
	Children []PathInfo `json:"children,omitempty"`
	Page     int        `json:"page,omitempty"`
	Pages    int        `json:"pages,omitempty"`
	Total    int        `json:"total,omitempty"`
}

// StripChildren returns a copy of info without the listing fields, for
// caching the directory's own record.
func (i PathInfo) StripChildren() PathInfo {
	i.Children = nil
	i.Page = 0
	i.Pages = 0
	i.Total = 0
	return i
}

// TaskRef is the body returned by an initiating bulk-operation request.
type TaskRef struct {
	TaskID string `json:"task_id"`
	URL    string `json:"url,omitempty"`
}

// TaskResult is the result object inside a task-status response.
//
// Errors is the per-item error map: a SUCCESS status with a non-empty
// Errors map is a partial failure.
type TaskResult struct {
	Status string            `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
}

// Task is the body returned by the task-status endpoint.
type Task struct {
	UUID   string      `json:"uuid"`
	Result *TaskResult `json:"result"`
}

// Identity is the body returned by the whoami endpoint.
type Identity struct {
	User string `json:"user"`
	Site string `json:"site,omitempty"`
}

// Ping is the body returned by the ping endpoint.
type Ping struct {
	Ping string `json:"ping"`
}

// SuccessfulTaskResult synthesizes the result of a task which the
// server never ran, e.g. a remove of a path which was already gone.
func SuccessfulTaskResult() *TaskResult {
	return &TaskResult{Status: TaskSuccess}
}

// String converts a PathInfo to a short description for logs.
func (i PathInfo) String() string {
	kind := "file"
	if i.IsDir {
		kind = "dir"
	}
	return fmt.Sprintf("%s %q (%d bytes)", kind, i.Path, i.Size)
}
