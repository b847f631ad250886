package api

import (
	"encoding/json"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Timestamps arrive with no zone designator and must be read as UTC.
func TestTimeParsedAsUTC(t *testing.T) {
	var info PathInfo
	err := json.Unmarshal([]byte(`{"name":"f","path":"/f","isfile":true,"size":4,"time":"2014-02-26T17:11:29"}`), &info)
	require.NoError(t, err)
	assert.Equal(t, int64(1393434689000), info.Time.Millis())
}

func TestTimeEmptyString(t *testing.T) {
	var ts Time
	require.NoError(t, ts.UnmarshalJSON([]byte(`""`)))
	assert.Equal(t, Time{}, ts)
}

func TestTimeRoundTrip(t *testing.T) {
	var ts Time
	require.NoError(t, ts.UnmarshalJSON([]byte(`"2020-01-02T03:04:05"`)))
	out, err := ts.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2020-01-02T03:04:05"`, string(out))
}

func TestStripChildren(t *testing.T) {
	dir := PathInfo{
		Path: "/d", IsDir: true,
		Children: []PathInfo{{Path: "/d/x"}},
		Page:     2, Pages: 3, Total: 40,
	}
	stripped := dir.StripChildren()
	assert.Nil(t, stripped.Children)
	assert.Zero(t, stripped.Pages)
	// the original is untouched
	assert.Len(t, dir.Children, 1)
}

func TestStatusCodeOf(t *testing.T) {
	err := &Error{StatusCode: 404, Detail: "Not found."}
	assert.Equal(t, 404, StatusCodeOf(err))
	assert.True(t, IsNotFound(err))

	wrapped := pkgerrors.Wrap(err, "stat /foo")
	assert.Equal(t, 404, StatusCodeOf(wrapped))
	assert.True(t, IsNotFound(wrapped))

	// transport errors carry no status
	assert.Equal(t, 0, StatusCodeOf(pkgerrors.New("connection refused")))
	assert.False(t, IsNotFound(nil))
}

func TestTaskErrorMessages(t *testing.T) {
	partial := &TaskError{
		TaskID:  "abc",
		Result:  &TaskResult{Status: TaskSuccess, Errors: map[string]string{"/a": "denied"}},
		Partial: true,
	}
	assert.Contains(t, partial.Error(), "abc")

	failed := &TaskError{TaskID: "def", Result: &TaskResult{Status: TaskFailure, Detail: "boom"}}
	assert.Contains(t, failed.Error(), "boom")
}
