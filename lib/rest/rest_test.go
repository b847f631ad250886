package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallFormBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/a b", r.PostForm.Get("path"))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewClient(ts.Client()).SetRoot(ts.URL)
	form := url.Values{}
	form.Set("path", "/a b")
	resp, err := c.Call(context.Background(), &Opts{
		Method:     "POST",
		Path:       "/oper/",
		FormParams: form,
		NoResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallJSONDecodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"x"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.Client()).SetRoot(ts.URL)
	var out struct {
		Name string `json:"name"`
	}
	_, err := c.CallJSON(context.Background(), &Opts{Method: "GET", Path: "/"}, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "x", out.Name)
}

func TestCallErrorHandler(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	handled := false
	c := NewClient(ts.Client()).SetRoot(ts.URL)
	c.SetErrorHandler(func(resp *http.Response) error {
		handled = true
		_, err := ReadBody(resp)
		require.NoError(t, err)
		return assert.AnError
	})
	_, err := c.Call(context.Background(), &Opts{Method: "GET", Path: "/"})
	assert.True(t, handled)
	assert.Equal(t, assert.AnError, err)
}

func TestCallHeadersAndSigner(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Default"))
		assert.Equal(t, "signed", r.Header.Get("X-Signed"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.Client()).SetRoot(ts.URL).SetHeader("X-Default", "yes")
	c.SetSigner(func(req *http.Request) error {
		req.Header.Set("X-Signed", "signed")
		req.SetBasicAuth("alice", "secret")
		return nil
	})
	_, err := c.Call(context.Background(), &Opts{Method: "GET", Path: "/", NoResponse: true})
	require.NoError(t, err)
}

// Per-call credentials apply without a signer being configured.
func TestCallPerCallBasicAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bob", user)
		assert.Equal(t, "hunter2", pass)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.Client()).SetRoot(ts.URL)
	_, err := c.Call(context.Background(), &Opts{
		Method:     "GET",
		Path:       "/",
		UserName:   "bob",
		Password:   "hunter2",
		NoResponse: true,
	})
	require.NoError(t, err)
}

// IgnoreStatus hands the raw response back without invoking the error
// handler, so the caller can inspect non-2xx bodies itself.
func TestCallIgnoreStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(ts.Client()).SetRoot(ts.URL)
	c.SetErrorHandler(func(resp *http.Response) error {
		t.Error("error handler must not run with IgnoreStatus set")
		return nil
	})
	resp, err := c.Call(context.Background(), &Opts{
		Method:       "GET",
		Path:         "/",
		IgnoreStatus: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "try later\n", string(body))
}

func TestMultipartUpload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "hello.txt", header.Filename)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(ts.Client()).SetRoot(ts.URL)
	var out map[string]interface{}
	_, err := c.CallJSON(context.Background(), &Opts{
		Method:               "POST",
		Path:                 "/upload/",
		Body:                 strings.NewReader("file contents"),
		MultipartContentName: "file",
		MultipartFileName:    "hello.txt",
	}, nil, &out)
	require.NoError(t, err)
}
