package smartfile

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/smartfile/client-go/api"
	"github.com/smartfile/client-go/lib/rest"
)

// taskStatus fetches the current state of one task. Rate limiting is
// handled like any other call; the poll wait itself is managed by
// WaitForTask.
func (c *Client) taskStatus(ctx context.Context, taskID string) (*api.Task, error) {
	var task api.Task
	_, err := c.callJSON(ctx, func() *rest.Opts {
		return &rest.Opts{
			Method: "GET",
			Path:   fmt.Sprintf("%s/%s/", apiTask, taskID),
		}
	}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitForTask polls the task-status endpoint until the task reaches a
// terminal state.
//
// Polls for one task are strictly sequential: the next poll is only
// scheduled after the previous response has been processed. The wait
// interval starts at PollMinInterval and doubles per poll up to
// PollMaxInterval. Exceeding PollTimeout in total is a fatal
// api.TaskTimeoutError, never retried.
//
// A FAILURE status or a SUCCESS status carrying per-item errors
// (partial failure) is reported as an api.TaskError exposing the raw
// result. An unknown status or a payload without a result object is a
// fatal protocol error.
func (c *Client) WaitForTask(ctx context.Context, taskID string) (*api.TaskResult, error) {
	start := time.Now()
	interval := c.opt.PollMinInterval
	for {
		task, err := c.taskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Result == nil {
			return nil, errors.Errorf("task %s: status payload has no result object", taskID)
		}
		result := task.Result
		switch result.Status {
		case api.TaskSuccess:
			if len(result.Errors) > 0 {
				return nil, &api.TaskError{TaskID: taskID, Result: result, Partial: true}
			}
			c.log.Debugf("task %s finished in %v", taskID, time.Since(start))
			return result, nil
		case api.TaskFailure:
			return nil, &api.TaskError{TaskID: taskID, Result: result}
		case api.TaskPending, api.TaskProgress:
			// fall through to wait
		default:
			return nil, errors.Errorf("task %s: unknown status %q", taskID, result.Status)
		}
		elapsed := time.Since(start)
		if elapsed > c.opt.PollTimeout {
			return nil, &api.TaskTimeoutError{TaskID: taskID, Elapsed: elapsed}
		}
		if err := pollSleep(ctx, interval); err != nil {
			return nil, err
		}
		interval *= 2
		if interval > c.opt.PollMaxInterval {
			interval = c.opt.PollMaxInterval
		}
	}
}

// pollSleep waits between polls. Swapped out in tests.
var pollSleep = sleepCtx

// sleepCtx waits for t or until ctx is cancelled.
func sleepCtx(ctx context.Context, t time.Duration) error {
	timer := time.NewTimer(t)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startOperation issues the initiating request for an asynchronous
// bulk operation and returns the task id to poll. The initiating
// request itself is never retried beyond the rate-limit path.
func (c *Client) startOperation(ctx context.Context, oper string, form url.Values) (string, error) {
	var ref api.TaskRef
	_, err := c.callJSON(ctx, func() *rest.Opts {
		return &rest.Opts{
			Method:     "POST",
			Path:       fmt.Sprintf("%s/%s/", apiPathOper, oper),
			FormParams: form,
		}
	}, &ref)
	if err != nil {
		return "", err
	}
	if ref.TaskID == "" {
		return "", errors.Errorf("%s: response carried no task id", oper)
	}
	return ref.TaskID, nil
}

// doOperation runs an asynchronous bulk operation end to end:
// initiate, then poll to a terminal state.
func (c *Client) doOperation(ctx context.Context, oper string, form url.Values) (*api.TaskResult, error) {
	taskID, err := c.startOperation(ctx, oper, form)
	if err != nil {
		return nil, err
	}
	return c.WaitForTask(ctx, taskID)
}
