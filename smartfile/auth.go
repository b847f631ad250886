package smartfile

import (
	"net/http"
)

// Authenticator applies authentication material to an outgoing
// request. The client swaps implementations when a session starts or
// ends.
type Authenticator interface {
	Apply(req *http.Request) error
}

// basicAuth authenticates every request with static credentials.
type basicAuth struct {
	user     string
	password string
}

// NewBasicAuth returns an Authenticator using static credentials.
func NewBasicAuth(user, password string) Authenticator {
	return &basicAuth{user: user, password: password}
}

// Apply sets the Authorization header.
func (a *basicAuth) Apply(req *http.Request) error {
	if a.user != "" || a.password != "" {
		req.SetBasicAuth(a.user, a.password)
	}
	return nil
}

// sessionAuth authenticates requests with a server session cookie. The
// CSRF token must accompany every unsafe-method request made while the
// session is active.
type sessionAuth struct {
	session *http.Cookie
	csrf    *http.Cookie
}

// NewSessionAuth returns an Authenticator using a session cookie and
// CSRF token.
func NewSessionAuth(session, csrf *http.Cookie) Authenticator {
	return &sessionAuth{session: session, csrf: csrf}
}

// safeMethod reports whether method can never change server state.
func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// Apply attaches the session cookies, plus the CSRF header for unsafe
// methods.
func (a *sessionAuth) Apply(req *http.Request) error {
	req.AddCookie(a.session)
	if a.csrf != nil {
		req.AddCookie(a.csrf)
		if !safeMethod(req.Method) {
			req.Header.Set("X-CSRFToken", a.csrf.Value)
		}
	}
	return nil
}
