package smartfile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/smartfile/client-go/api"
	"github.com/smartfile/client-go/lib/pacer"
	"github.com/smartfile/client-go/lib/rest"
)

// Ping checks that the API answers.
func (c *Client) Ping(ctx context.Context) error {
	var pong api.Ping
	_, err := c.callJSON(ctx, func() *rest.Opts {
		return &rest.Opts{Method: "GET", Path: apiPing}
	}, &pong)
	if err != nil {
		return err
	}
	if pong.Ping != "pong" {
		return errors.Errorf("unexpected ping response %q", pong.Ping)
	}
	return nil
}

// WhoAmI returns the identity the credentials resolve to.
func (c *Client) WhoAmI(ctx context.Context) (*api.Identity, error) {
	var identity api.Identity
	_, err := c.callJSON(ctx, func() *rest.Opts {
		return &rest.Opts{Method: "GET", Path: apiWhoAmI}
	}, &identity)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// Info fetches the metadata of a single path.
func (c *Client) Info(ctx context.Context, remotePath string) (*api.PathInfo, error) {
	var info api.PathInfo
	_, err := c.callJSON(ctx, func() *rest.Opts {
		return &rest.Opts{Method: "GET", Path: apiPathInfo + encodePath(remotePath)}
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListPageFn receives one page of a directory listing. It is called
// once per page with the directory's info carrying the current page of
// children, then a final time with nil once there are no more pages.
// Returning stop=true ends the listing early (the final nil call is
// skipped); returning an error aborts the listing.
type ListPageFn func(page *api.PathInfo) (stop bool, err error)

// ListChildren pages through a directory listing, delivering each page
// to fn as it arrives. Pages are requested strictly one after another:
// the next page is only fetched after fn returns for the current one.
func (c *Client) ListChildren(ctx context.Context, remotePath string, fn ListPageFn) error {
	encoded := encodePath(remotePath)
	for page := 1; ; page++ {
		var info api.PathInfo
		_, err := c.callJSON(ctx, func() *rest.Opts {
			params := url.Values{}
			params.Set("children", "true")
			params.Set("limit", strconv.Itoa(c.opt.ListPageSize))
			params.Set("page", strconv.Itoa(page))
			return &rest.Opts{
				Method:     "GET",
				Path:       apiPathInfo + encoded,
				Parameters: params,
			}
		}, &info)
		if err != nil {
			return err
		}
		if !info.IsDir {
			return errors.Errorf("%q is not a directory", remotePath)
		}
		stop, err := fn(&info)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		if info.Pages == 0 || page >= info.Pages {
			break
		}
	}
	// no more pages
	_, err := fn(nil)
	return err
}

// Download opens the content of a remote file for reading. The caller
// must close the returned stream. The request deliberately runs
// without the metadata timeout: transfer time depends on the file
// size.
func (c *Client) Download(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	var resp *http.Response
	err := c.pacer.Call(ctx, func() (bool, error) {
		var err error
		resp, err = c.srv.Call(ctx, &rest.Opts{
			Method: "GET",
			Path:   apiPathData + encodePath(remotePath),
		})
		return c.shouldRetry(resp, err)
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// UploadNew appends a new file named fileName to the directory dir
// using a buffered multipart POST.
//
// The body is streamed into the multipart encoder, so a rate-limited
// response cannot be replayed here: it is surfaced as an error
// carrying the suggested wait (see pacer.RetryAfter).
func (c *Client) UploadNew(ctx context.Context, dir, fileName string, in io.Reader) (err error) {
	resp, err := c.srv.CallJSON(ctx, &rest.Opts{
		Method:               "POST",
		Path:                 apiPathData + encodePath(dir),
		Body:                 in,
		MultipartContentName: "file",
		MultipartFileName:    fileName,
		NoResponse:           true,
	}, nil, nil)
	return c.checkStreamedUpload(resp, err)
}

// Upload replaces the whole content of remotePath with in.
//
// The body is streamed, so a rate-limited response is surfaced as an
// error carrying the suggested wait rather than silently retried.
func (c *Client) Upload(ctx context.Context, remotePath string, in io.Reader, size int64) (err error) {
	opts := &rest.Opts{
		Method:     "PUT",
		Path:       apiPathData + encodePath(remotePath),
		Body:       in,
		NoResponse: true,
	}
	if size >= 0 {
		opts.ContentLength = &size
	}
	resp, err := c.srv.Call(ctx, opts)
	return c.checkStreamedUpload(resp, err)
}

// UploadRange appends or patches a byte range of remotePath, for
// partial or resumable transfers. unmodifiedSince guards against
// concurrent modification; passing the zero time skips the check,
// which is legal but warned about.
func (c *Client) UploadRange(ctx context.Context, remotePath string, in io.Reader, offset, size int64, unmodifiedSince time.Time) (err error) {
	opts := &rest.Opts{
		Method:     "PATCH",
		Path:       apiData3 + encodePath(remotePath),
		Body:       in,
		Range:      fmt.Sprintf("bytes=%d-%d", offset, offset+size-1),
		NoResponse: true,
	}
	if size >= 0 {
		opts.ContentLength = &size
	}
	if unmodifiedSince.IsZero() {
		c.log.Warnf("range upload of %q without If-Unmodified-Since, concurrent modification won't be detected", remotePath)
	} else {
		opts.ExtraHeaders = map[string]string{
			"If-Unmodified-Since": unmodifiedSince.UTC().Format(http.TimeFormat),
		}
	}
	resp, err := c.srv.Call(ctx, opts)
	return c.checkStreamedUpload(resp, err)
}

// checkStreamedUpload translates a rate-limited response on a
// non-replayable (streamed) request into a retryable-hint error
// carrying the suggested wait, since the body cannot be re-sent.
func (c *Client) checkStreamedUpload(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		c.metrics.IncThrottle()
		return pacer.RetryAfterError(err, c.parseRetryAfter(resp))
	}
	return err
}

// Mkdir creates a directory and returns its info.
func (c *Client) Mkdir(ctx context.Context, remotePath string) (*api.PathInfo, error) {
	var info api.PathInfo
	_, err := c.callJSON(ctx, func() *rest.Opts {
		form := url.Values{}
		form.Set("path", remotePath)
		return &rest.Opts{
			Method:     "POST",
			Path:       apiPathOper + "/mkdir/",
			FormParams: form,
		}
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// deleteOutcome classifies the HTTP status of a remove request.
type deleteOutcome int

const (
	deleteStarted     deleteOutcome = iota // operation accepted, poll the task
	deleteAlreadyGone                      // path was already absent, success
	deleteFailed                           // real error, propagate
)

// classifyDeleteOutcome is the idempotent-delete policy: a 404 from
// the remove endpoint means the path is already gone, which is the
// state the caller asked for.
func classifyDeleteOutcome(statusCode int) deleteOutcome {
	switch {
	case statusCode == http.StatusNotFound:
		return deleteAlreadyGone
	case statusCode >= 200 && statusCode < 300:
		return deleteStarted
	default:
		return deleteFailed
	}
}

// Remove deletes remotePath through the asynchronous remove operation
// and waits for the task to finish. Removing a path which is already
// gone resolves as a synthesized successful result.
func (c *Client) Remove(ctx context.Context, remotePath string) (*api.TaskResult, error) {
	form := url.Values{}
	form.Set("path", remotePath)
	taskID, err := c.startOperation(ctx, "remove", form)
	if err != nil {
		switch classifyDeleteOutcome(api.StatusCodeOf(err)) {
		case deleteAlreadyGone:
			return api.SuccessfulTaskResult(), nil
		default:
			return nil, err
		}
	}
	return c.WaitForTask(ctx, taskID)
}

// RemoveFile deletes a single file directly, without the task round
// trip. The same idempotent-delete policy applies.
func (c *Client) RemoveFile(ctx context.Context, remotePath string) error {
	_, err := c.callJSON(ctx, func() *rest.Opts {
		return &rest.Opts{
			Method:     "DELETE",
			Path:       apiData3 + encodePath(remotePath),
			NoResponse: true,
		}
	}, nil)
	if err != nil && classifyDeleteOutcome(api.StatusCodeOf(err)) == deleteAlreadyGone {
		return nil
	}
	return err
}

// Copy copies src to dst through the asynchronous copy operation.
func (c *Client) Copy(ctx context.Context, src, dst string) (*api.TaskResult, error) {
	form := url.Values{}
	form.Set("src", src)
	form.Set("dst", dst)
	return c.doOperation(ctx, "copy", form)
}

// Move moves src to dst through the asynchronous move operation.
func (c *Client) Move(ctx context.Context, src, dst string) (*api.TaskResult, error) {
	form := url.Values{}
	form.Set("src", src)
	form.Set("dst", dst)
	return c.doOperation(ctx, "move", form)
}

// Rename renames src to dst. Unlike Move this is a plain synchronous
// call, there is no task to poll. Returns the renamed resource's info.
func (c *Client) Rename(ctx context.Context, src, dst string) (*api.PathInfo, error) {
	var info api.PathInfo
	_, err := c.callJSON(ctx, func() *rest.Opts {
		form := url.Values{}
		form.Set("src", src)
		form.Set("dst", dst)
		return &rest.Opts{
			Method:     "POST",
			Path:       apiPathOper + "/rename/",
			FormParams: form,
		}
	}, &info)
	if err != nil {
		return nil, err
	}
	if info.Path == "" {
		// some server revisions return an empty body on rename
		info.Path = dst
		info.Name = path.Base(dst)
	}
	return &info, nil
}
