// Package pacer makes pacing and retrying API calls easy.
package pacer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Pacer paces operations and retries the ones which ask for it.
type Pacer struct {
	mu                 sync.Mutex    // protecting read/writes
	minSleep           time.Duration // minimum sleep time
	maxSleep           time.Duration // maximum sleep time
	decayConstant      uint          // decay constant
	sleepTime          time.Duration // time to sleep for each transaction
	retries            int           // max number of retries
	consecutiveRetries int           // number of consecutive retries
}

// Paced is a function called by Call. It should return a boolean, true
// if it would like to be retried, and an error. The error may be
// returned wrapped in a RetryAfterError to suggest how long to wait.
type Paced func() (bool, error)

// New returns a Pacer with sensible defaults.
func New() *Pacer {
	p := &Pacer{
		minSleep:      10 * time.Millisecond,
		maxSleep:      2 * time.Second,
		decayConstant: 2,
		retries:       10,
	}
	p.sleepTime = p.minSleep
	return p
}

// SetMinSleep sets the minimum sleep time for the pacer.
func (p *Pacer) SetMinSleep(t time.Duration) *Pacer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minSleep = t
	p.sleepTime = p.minSleep
	return p
}

// SetMaxSleep sets the maximum sleep time for the pacer.
func (p *Pacer) SetMaxSleep(t time.Duration) *Pacer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxSleep = t
	p.sleepTime = p.minSleep
	return p
}

// SetRetries sets the max number of tries for Call.
func (p *Pacer) SetRetries(retries int) *Pacer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = retries
	return p
}

// SetDecayConstant sets the speed the sleep time falls back to the
// minimum after errors have stopped - bigger for slower decay.
func (p *Pacer) SetDecayConstant(decay uint) *Pacer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decayConstant = decay
	return p
}

// SleepTime returns the current sleep interval.
func (p *Pacer) SleepTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleepTime
}

// endCall updates the sleep time after a transaction. Doubles on
// retry-worthy outcomes up to maxSleep, decays towards minSleep on
// success. A RetryAfterError overrides the computed sleep when longer.
func (p *Pacer) endCall(again bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if again {
		p.consecutiveRetries++
		p.sleepTime *= 2
		if p.sleepTime > p.maxSleep {
			p.sleepTime = p.maxSleep
		}
		if retryAfter, ok := RetryAfter(err); ok && retryAfter > p.sleepTime {
			p.sleepTime = retryAfter
		}
	} else {
		p.consecutiveRetries = 0
		p.sleepTime = (p.sleepTime<<p.decayConstant - p.sleepTime) >> p.decayConstant
		if p.sleepTime < p.minSleep {
			p.sleepTime = p.minSleep
		}
	}
}

// sleepCtx waits for t or until ctx is cancelled.
func sleepCtx(ctx context.Context, t time.Duration) error {
	if t <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call implements Call but with settable retries.
func (p *Pacer) call(ctx context.Context, fn Paced, retries int) (err error) {
	var again bool
	for i := 0; i < retries; i++ {
		again, err = fn()
		p.endCall(again, err)
		if !again {
			break
		}
		if sleepErr := sleepCtx(ctx, p.SleepTime()); sleepErr != nil {
			return errors.Wrap(sleepErr, "pacer wait interrupted")
		}
	}
	if again {
		return errors.Wrap(err, "too many retries")
	}
	return err
}

// Call paces the remote operations to not exceed the limits and
// retries on rate limit exceeded.
func (p *Pacer) Call(ctx context.Context, fn Paced) error {
	p.mu.Lock()
	retries := p.retries
	p.mu.Unlock()
	return p.call(ctx, fn, retries)
}

// CallNoRetry paces the remote operation but runs it only once.
func (p *Pacer) CallNoRetry(ctx context.Context, fn Paced) error {
	return p.call(ctx, fn, 1)
}

// retryAfterError is an error with a server-suggested wait attached.
type retryAfterError struct {
	error
	retryAfter time.Duration
}

// RetryAfterError returns a wrapped err carrying the suggested wait.
// A nil err still produces a non-nil error so the hint survives.
func RetryAfterError(err error, retryAfter time.Duration) error {
	if err == nil {
		err = errors.New("too many requests")
	}
	return &retryAfterError{error: err, retryAfter: retryAfter}
}

// Unwrap returns the underlying error.
func (e *retryAfterError) Unwrap() error { return e.error }

// RetryAfter returns the wait hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var r *retryAfterError
	if errors.As(err, &r) {
		return r.retryAfter, true
	}
	return 0, false
}
