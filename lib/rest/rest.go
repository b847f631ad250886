// Package rest implements a simple REST wrapper.
//
// All methods are safe for concurrent calling.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Client contains the info to sustain the API.
type Client struct {
	mu           sync.RWMutex
	c            *http.Client
	rootURL      string
	errorHandler func(resp *http.Response) error
	headers      map[string]string
	signer       SignerFn
}

// NewClient takes an http.Client and makes a new api instance.
func NewClient(c *http.Client) *Client {
	return &Client{
		c:            c,
		errorHandler: defaultErrorHandler,
		headers:      make(map[string]string),
	}
}

// CheckClose is a utility function used to check the return from Close
// in a defer statement.
func CheckClose(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}

// ReadBody reads resp.Body into result, closing the body.
func ReadBody(resp *http.Response) (result []byte, err error) {
	defer CheckClose(resp.Body, &err)
	return io.ReadAll(resp.Body)
}

// defaultErrorHandler doesn't attempt to parse the http body, just
// returns it in the error message closing resp.Body.
func defaultErrorHandler(resp *http.Response) (err error) {
	body, err := ReadBody(resp)
	if err != nil {
		return errors.Wrap(err, "error reading error out of body")
	}
	return errors.Errorf("HTTP error %v (%v) returned body: %q", resp.StatusCode, resp.Status, body)
}

// SetErrorHandler sets the handler to decode an error response when
// the HTTP status code is not 2xx. The handler should close resp.Body.
func (api *Client) SetErrorHandler(fn func(resp *http.Response) error) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.errorHandler = fn
	return api
}

// SetRoot sets the default RootURL. You can override this on a per
// call basis using the RootURL field in Opts.
func (api *Client) SetRoot(rootURL string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.rootURL = strings.TrimSuffix(rootURL, "/")
	return api
}

// SetHeader sets a header for all requests.
func (api *Client) SetHeader(key, value string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.headers[key] = value
	return api
}

// RemoveHeader unsets a header for all requests.
func (api *Client) RemoveHeader(key string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	delete(api.headers, key)
	return api
}

// SignerFn is used to sign an outgoing request.
type SignerFn func(*http.Request) error

// SetSigner sets a signer for all requests.
func (api *Client) SetSigner(signer SignerFn) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.signer = signer
	return api
}

// Opts contains parameters for Call, CallJSON, etc.
type Opts struct {
	Method        string // GET, POST, etc.
	Path          string // relative to RootURL, should be URL escaped
	RootURL       string // override RootURL passed into SetRoot()
	Body          io.Reader
	NoResponse    bool // set to close the body after the call
	ContentType   string
	ContentLength *int64
	Range         string // Range header for partial transfers
	ExtraHeaders  map[string]string
	UserName      string     // username for Basic Auth
	Password      string     // password for Basic Auth
	IgnoreStatus  bool       // don't check error status or parse error body
	FormParams    url.Values // if set, send an URL-encoded form body
	// Multipart form upload with an attached file. MultipartContentName
	// is the name of the form parameter carrying the file.
	MultipartParams      url.Values
	MultipartContentName string
	MultipartFileName    string
	Parameters           url.Values // any parameters for the final URL
}

// Copy creates a copy of the options.
func (o *Opts) Copy() *Opts {
	newOpts := *o
	return &newOpts
}

// DecodeJSON decodes resp.Body into result.
func DecodeJSON(resp *http.Response, result interface{}) (err error) {
	defer CheckClose(resp.Body, &err)
	decoder := json.NewDecoder(resp.Body)
	return decoder.Decode(result)
}

// URL assembles the final URL for opts relative to the client root.
func (api *Client) URL(opts *Opts) (string, error) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	url := api.rootURL
	if opts.RootURL != "" {
		url = strings.TrimSuffix(opts.RootURL, "/")
	}
	if url == "" {
		return "", errors.New("RootURL not set")
	}
	url += opts.Path
	if len(opts.Parameters) > 0 {
		url += "?" + opts.Parameters.Encode()
	}
	return url, nil
}

// Call makes the call and returns the http.Response.
//
// if err == nil then resp.Body will need to be closed unless
// opts.NoResponse is set.
//
// if err != nil then resp.Body will have been closed.
//
// it will return resp if at all possible, even if err is set.
func (api *Client) Call(ctx context.Context, opts *Opts) (resp *http.Response, err error) {
	if opts == nil {
		return nil, errors.New("call() called with nil opts")
	}
	url, err := api.URL(opts)
	if err != nil {
		return nil, err
	}
	body := opts.Body
	contentType := opts.ContentType
	if len(opts.FormParams) > 0 {
		if body != nil {
			return nil, errors.New("can't use FormParams and Body together")
		}
		body = strings.NewReader(opts.FormParams.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, url, body)
	if err != nil {
		return nil, err
	}
	api.mu.RLock()
	headers := make(map[string]string, len(api.headers))
	for k, v := range api.headers {
		headers[k] = v
	}
	signer := api.signer
	c := api.c
	api.mu.RUnlock()
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	if opts.ContentLength != nil {
		req.ContentLength = *opts.ContentLength
	}
	if opts.Range != "" {
		headers["Range"] = opts.Range
	}
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	for k, v := range headers {
		if k != "" && v != "" {
			req.Header.Set(k, v)
		}
	}
	if opts.UserName != "" || opts.Password != "" {
		req.SetBasicAuth(opts.UserName, opts.Password)
	}
	if signer != nil {
		if err = signer(req); err != nil {
			return nil, errors.Wrap(err, "signer failed")
		}
	}
	resp, err = c.Do(req)
	if err != nil {
		return nil, err
	}
	if !opts.IgnoreStatus {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			err = api.errorHandler(resp)
			if err == nil || err.Error() == "" {
				// replace empty errors with something
				err = errors.Errorf("http error %d: %v", resp.StatusCode, resp.Status)
			}
			return resp, err
		}
	}
	if opts.NoResponse {
		return resp, resp.Body.Close()
	}
	return resp, nil
}

// MultipartUpload creates an io.Reader which produces an encoded
// multipart form upload from the params passed in and the file body.
//
// in - the body of the file (may be nil)
// params - the form parameters
// fileName - is the name of the attached file
// contentName - the name of the parameter for the file
//
// the int64 returned is the overhead in addition to the file contents,
// in case Content-Length is required.
func MultipartUpload(in io.Reader, params url.Values, contentName, fileName string) (io.ReadCloser, string, int64, error) {
	bodyReader, bodyWriter := io.Pipe()
	writer := multipart.NewWriter(bodyWriter)
	contentType := writer.FormDataContentType()

	// Create a Multipart Writer as base for calculating the Content-Length
	buf := &bytes.Buffer{}
	dummyMultipartWriter := multipart.NewWriter(buf)
	err := dummyMultipartWriter.SetBoundary(writer.Boundary())
	if err != nil {
		return nil, "", 0, err
	}
	for key, vals := range params {
		for _, val := range vals {
			err := dummyMultipartWriter.WriteField(key, val)
			if err != nil {
				return nil, "", 0, err
			}
		}
	}
	if in != nil {
		_, err = dummyMultipartWriter.CreateFormFile(contentName, fileName)
		if err != nil {
			return nil, "", 0, err
		}
	}
	err = dummyMultipartWriter.Close()
	if err != nil {
		return nil, "", 0, err
	}
	multipartLength := int64(buf.Len())

	// Pump the data in the background
	go func() {
		var err error
		for key, vals := range params {
			for _, val := range vals {
				err = writer.WriteField(key, val)
				if err != nil {
					_ = bodyWriter.CloseWithError(errors.Wrap(err, "create metadata part"))
					return
				}
			}
		}
		if in != nil {
			part, err := writer.CreateFormFile(contentName, fileName)
			if err != nil {
				_ = bodyWriter.CloseWithError(errors.Wrap(err, "failed to create form file"))
				return
			}
			_, err = io.Copy(part, in)
			if err != nil {
				_ = bodyWriter.CloseWithError(errors.Wrap(err, "failed to copy data"))
				return
			}
		}
		err = writer.Close()
		if err != nil {
			_ = bodyWriter.CloseWithError(errors.Wrap(err, "failed to close form"))
			return
		}
		_ = bodyWriter.Close()
	}()

	return bodyReader, contentType, multipartLength, nil
}

// CallJSON runs Call and decodes the body as a JSON object into
// response (if not nil).
//
// If request is not nil then it will be JSON encoded as the body of
// the request.
//
// If (opts.MultipartParams or opts.MultipartContentName) and opts.Body
// are set then CallJSON will do a multipart upload with a file
// attached. opts.MultipartContentName is the name of the parameter and
// opts.MultipartFileName is the name of the file.
//
// It will return resp if at all possible, even if err is set.
func (api *Client) CallJSON(ctx context.Context, opts *Opts, request interface{}, response interface{}) (resp *http.Response, err error) {
	if request != nil {
		requestBody, err := json.Marshal(request)
		if err != nil {
			return nil, err
		}
		if opts.Body == nil {
			opts = opts.Copy()
			opts.ContentType = "application/json"
			opts.Body = bytes.NewBuffer(requestBody)
		}
	}
	if opts.MultipartParams != nil || opts.MultipartContentName != "" {
		params := opts.MultipartParams
		if params == nil {
			params = url.Values{}
		}
		opts = opts.Copy()
		var overhead int64
		opts.Body, opts.ContentType, overhead, err = MultipartUpload(opts.Body, params, opts.MultipartContentName, opts.MultipartFileName)
		if err != nil {
			return nil, err
		}
		if opts.ContentLength != nil {
			*opts.ContentLength += overhead
		}
	}
	resp, err = api.Call(ctx, opts)
	if err != nil {
		return resp, err
	}
	// if opts.NoResponse is set, resp.Body will have been closed by Call()
	if response == nil || opts.NoResponse {
		return resp, nil
	}
	err = DecodeJSON(resp, response)
	return resp, err
}
