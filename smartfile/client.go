// Package smartfile implements a client for the SmartFile REST API.
//
// The client speaks the path-addressed API surface (metadata, data
// transfer, bulk operations) and turns the server's asynchronous
// task pattern into synchronous calls.
package smartfile

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/smartfile/client-go/api"
	"github.com/smartfile/client-go/lib/pacer"
	"github.com/smartfile/client-go/lib/pathcodec"
	"github.com/smartfile/client-go/lib/rest"
	"github.com/smartfile/client-go/obs"
)

const (
	apiPing     = "/api/2/ping/"
	apiWhoAmI   = "/api/2/whoami/"
	apiPathInfo = "/api/2/path/info"
	apiPathData = "/api/2/path/data"
	apiPathOper = "/api/2/path/oper"
	apiTask     = "/api/2/task"
	apiData3    = "/api/3/path/data"
	apiSession  = "/api/2/session/"

	retryAfterHeader  = "Retry-After"
	defaultRetryAfter = time.Second

	defaultListPageSize    = 1024
	defaultPollMinInterval = 192 * time.Millisecond
	defaultPollMaxInterval = 6144 * time.Millisecond
	defaultPollTimeout     = 390 * time.Second

	// rate-limit retries before giving up
	rateLimitRetries = 10
)

// Options configures a Client.
type Options struct {
	BaseURL  string            // e.g. https://app.smartfile.com
	User     string            // basic auth user (or API key)
	Password string            // basic auth password
	Headers  map[string]string // extra headers for every request

	// Timeout bounds each metadata request. Upload and download
	// requests always run without it: their duration depends on the
	// data size and can't be bounded in advance.
	Timeout time.Duration

	ListPageSize    int           // directory listing page size
	PollMinInterval time.Duration // first task poll wait
	PollMaxInterval time.Duration // cap for the doubling poll wait
	PollTimeout     time.Duration // total poll ceiling, fatal once exceeded

	HTTPClient *http.Client // defaults to http.DefaultClient
	Logger     obs.Logger   // defaults to a silent logger
	Metrics    obs.Metrics  // defaults to discarding metrics
}

func (o *Options) withDefaults() Options {
	opt := *o
	if opt.ListPageSize <= 0 {
		opt.ListPageSize = defaultListPageSize
	}
	if opt.PollMinInterval <= 0 {
		opt.PollMinInterval = defaultPollMinInterval
	}
	if opt.PollMaxInterval <= 0 {
		opt.PollMaxInterval = defaultPollMaxInterval
	}
	if opt.PollTimeout <= 0 {
		opt.PollTimeout = defaultPollTimeout
	}
	if opt.HTTPClient == nil {
		opt.HTTPClient = http.DefaultClient
	}
	if opt.Logger == nil {
		opt.Logger = obs.NopLogger()
	}
	if opt.Metrics == nil {
		opt.Metrics = obs.NopMetrics()
	}
	return opt
}

// Client is a SmartFile API client.
type Client struct {
	opt     Options
	srv     *rest.Client
	pacer   *pacer.Pacer
	log     obs.Logger
	metrics obs.Metrics

	authMu sync.Mutex
	auth   Authenticator
}

// NewClient creates a Client from opt.
func NewClient(opt Options) (*Client, error) {
	if opt.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	opt = opt.withDefaults()
	c := &Client{
		opt:     opt,
		log:     opt.Logger,
		metrics: opt.Metrics,
		auth:    NewBasicAuth(opt.User, opt.Password),
	}
	c.pacer = pacer.New().
		SetMinSleep(50 * time.Millisecond).
		SetMaxSleep(opt.PollMaxInterval).
		SetRetries(rateLimitRetries)
	c.srv = rest.NewClient(opt.HTTPClient).
		SetRoot(opt.BaseURL).
		SetErrorHandler(errorHandler).
		SetSigner(c.sign)
	for k, v := range opt.Headers {
		c.srv.SetHeader(k, v)
	}
	return c, nil
}

// sign applies the current authenticator to an outgoing request.
func (c *Client) sign(req *http.Request) error {
	c.authMu.Lock()
	auth := c.auth
	c.authMu.Unlock()
	return auth.Apply(req)
}

// setAuth swaps the active authenticator.
func (c *Client) setAuth(auth Authenticator) {
	c.authMu.Lock()
	c.auth = auth
	c.authMu.Unlock()
}

// errorHandler parses a non-2xx response body into an api.Error,
// pulling the human-readable detail out of the JSON body when present.
func errorHandler(resp *http.Response) error {
	apiErr := &api.Error{StatusCode: resp.StatusCode}
	body, err := rest.ReadBody(resp)
	if err != nil {
		return apiErr
	}
	if decodeErr := json.Unmarshal(body, apiErr); decodeErr != nil || apiErr.Detail == "" {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 256 {
			detail = detail[:256]
		}
		apiErr.Detail = detail
	}
	return apiErr
}

// parseRetryAfter reads the retry delay (in seconds, possibly
// fractional) from a 429 response, falling back to a conservative
// default when absent or malformed.
func (c *Client) parseRetryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get(retryAfterHeader)
	if value == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		c.log.Warnf("malformed %s header %q: %v", retryAfterHeader, value, err)
		return defaultRetryAfter
	}
	return time.Duration(seconds * float64(time.Second))
}

// shouldRetry intercepts rate-limit responses. 429 is never surfaced
// to the caller as an error: it asks the pacer to replay the request
// after the server-suggested wait. Every other failure is surfaced
// once.
func (c *Client) shouldRetry(resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		c.metrics.IncThrottle()
		retryAfter := c.parseRetryAfter(resp)
		c.log.Debugf("rate limited, retrying after %v", retryAfter)
		return true, pacer.RetryAfterError(err, retryAfter)
	}
	return false, err
}

// timeoutCtx applies the configured metadata request timeout.
func (c *Client) timeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opt.Timeout > 0 {
		return context.WithTimeout(ctx, c.opt.Timeout)
	}
	return ctx, func() {}
}

// callJSON issues a replayable JSON request through the rate-limit
// pacer. newOpts must build fresh Opts (with a fresh body) on every
// attempt. A body which fails to parse as JSON is reported as an
// api.DecodeError, distinct from transport errors.
func (c *Client) callJSON(ctx context.Context, newOpts func() *rest.Opts, response interface{}) (resp *http.Response, err error) {
	ctx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	err = c.pacer.Call(ctx, func() (bool, error) {
		resp, err = c.srv.CallJSON(ctx, newOpts(), nil, response)
		return c.shouldRetry(resp, err)
	})
	if err != nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		err = &api.DecodeError{Err: err}
	}
	return resp, err
}

// encodePath percent-encodes a remote path for use after an endpoint
// prefix.
func encodePath(remotePath string) string {
	return pathcodec.Encode(remotePath, true)
}
