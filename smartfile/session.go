package smartfile

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/smartfile/client-go/lib/rest"
)

const (
	sessionCookieName = "sessionid"
	csrfCookieName    = "csrftoken"
)

// StartSession trades the basic credentials for a server session.
// Until EndSession is called, requests authenticate with the session
// cookie instead of the Authorization header, and unsafe methods carry
// the CSRF token.
func (c *Client) StartSession(ctx context.Context) (err error) {
	ctx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	var resp *http.Response
	err = c.pacer.Call(ctx, func() (bool, error) {
		resp, err = c.srv.Call(ctx, &rest.Opts{Method: "POST", Path: apiSession})
		return c.shouldRetry(resp, err)
	})
	if err != nil {
		return err
	}
	defer rest.CheckClose(resp.Body, &err)
	var session, csrf *http.Cookie
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case sessionCookieName:
			session = cookie
		case csrfCookieName:
			csrf = cookie
		}
	}
	if session == nil {
		return errors.New("session response carried no session cookie")
	}
	c.setAuth(NewSessionAuth(session, csrf))
	c.log.Debugf("session started")
	return nil
}

// EndSession terminates the server session and reverts to basic
// credentials. Reverting happens even if the server call fails: the
// local session material is gone either way.
func (c *Client) EndSession(ctx context.Context) error {
	ctx, cancel := c.timeoutCtx(ctx)
	defer cancel()
	var resp *http.Response
	var err error
	callErr := c.pacer.Call(ctx, func() (bool, error) {
		resp, err = c.srv.Call(ctx, &rest.Opts{Method: "DELETE", Path: apiSession, NoResponse: true})
		return c.shouldRetry(resp, err)
	})
	c.setAuth(NewBasicAuth(c.opt.User, c.opt.Password))
	c.log.Debugf("session ended")
	return callErr
}

// ActiveSession reports whether requests currently authenticate with a
// session cookie.
func (c *Client) ActiveSession() bool {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	_, ok := c.auth.(*sessionAuth)
	return ok
}
