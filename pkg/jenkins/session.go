package jenkins

import (
	"encoding/base64"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

// Session is an authenticated binding to one Jenkins instance. A nil
// *Session means disconnected; the URL and credential never exist apart.
type Session struct {
	BaseURL    string
	authHeader string
}

func newSession(baseURL, username, password string) *Session {
	return &Session{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		authHeader: basicAuthHeader(username, password),
	}
}

// basicAuthHeader builds the HTTP Basic credential for username:password.
func basicAuthHeader(username, password string) string {
	credentials := username + ":" + password

	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// url joins the base URL with an endpoint that starts with "/".
func (s *Session) url(endpoint string) string {
	return s.BaseURL + endpoint
}

// session returns the current session snapshot, or nil.
func (c *client) session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sess
}

func (c *client) setSession(s *Session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

// IsConnected reports whether an active session exists.
func (c *client) IsConnected() bool {
	return c.session() != nil
}

// BaseURL returns the connected Jenkins URL, or "" when disconnected.
func (c *client) BaseURL() string {
	if s := c.session(); s != nil {
		return s.BaseURL
	}

	return ""
}

// Disconnect drops the active session and its web cookies. It is safe to
// call at any time.
func (c *client) Disconnect() {
	c.setSession(nil)
	c.jar.reset()

	if c.metrics != nil {
		c.metrics.SetJenkinsConnected(false)
	}

	c.log.Debug("Session cleared")
}

// sessionJar holds the Jenkins web-session cookies that CSRF crumbs are bound
// to. It is emptied whenever the session changes so a new login never inherits
// the previous user's cookies.
type sessionJar struct {
	mu  sync.Mutex
	jar *cookiejar.Jar
}

var _ http.CookieJar = (*sessionJar)(nil)

func newSessionJar() *sessionJar {
	j := &sessionJar{}
	j.reset()

	return j
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.jar.Cookies(u)
}

func (j *sessionJar) reset() {
	// cookiejar.New only fails on a bad PublicSuffixList, and none is passed.
	fresh, _ := cookiejar.New(nil)

	j.mu.Lock()
	j.jar = fresh
	j.mu.Unlock()
}
