// Package api is the HTTP client for the CrawJUD backend. It carries the
// session cookie jar, echoes the CSRF cookie as a header and turns an
// expired session into a single logout plus a redirect to the login view.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/REM-Infotech/crawjud-ui/internal/cookiejar"
	"github.com/REM-Infotech/crawjud-ui/internal/logger"
)

const (
	CSRFCookie    = "x-xsrf-token"
	CSRFHeader    = "x-xsrf-token"
	SessionCookie = "access_token_cookie"

	LoginPath  = "/auth/login"
	LogoutPath = "/auth/logout"

	defaultTimeout = 30 * time.Second
	maxBodySize    = 64 << 20
)

var (
	// ErrUnauthorized is returned after the session expired and the user was sent back to login.
	ErrUnauthorized = errors.New("api: session expired")
	// ErrUnreachable wraps transport failures talking to the backend.
	ErrUnreachable = errors.New("api: backend unreachable")
)

// StatusError is a non-2xx response other than an expired session.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("api: %d: %s", e.Code, e.Message)
}

// Navigator receives the UI side effects of the client: the fatal notice on
// network failure and the redirect to the login view.
type Navigator interface {
	ToLogin(reason string)
	Fatal(message string)
}

type nopNavigator struct{}

func (nopNavigator) ToLogin(string) {}
func (nopNavigator) Fatal(string)   {}

// Options configures a Client. BaseURL and Jar are required.
type Options struct {
	BaseURL    string
	Jar        *cookiejar.Jar
	Navigator  Navigator
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is the authenticated HTTP client for the backend.
type Client struct {
	base *url.URL
	http *http.Client
	jar  *cookiejar.Jar
	nav  Navigator
	log  *slog.Logger
}

// New builds a Client whose http.Client carries opts.Jar.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	if opts.Jar == nil {
		return nil, fmt.Errorf("cookie jar is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	hc.Jar = opts.Jar
	nav := opts.Navigator
	if nav == nil {
		nav = nopNavigator{}
	}
	return &Client{base: base, http: hc, jar: opts.Jar, nav: nav, log: logger.Or(opts.Logger)}, nil
}

func (c *Client) BaseURL() *url.URL { u := *c.base; return &u }

func (c *Client) Jar() *cookiejar.Jar { return c.jar }

// Cookies returns the cookies the jar would send to the backend root.
func (c *Client) Cookies() []*http.Cookie { return c.jar.Cookies(c.base) }

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do sends a JSON request and decodes a JSON response into out (when non-nil).
// A 401 outside the auth endpoints logs the session out once and returns
// ErrUnauthorized; the request is not retried.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.DoStatus(ctx, method, path, body, out)
	return err
}

// DoStatus is Do that also reports the response status code. The code is
// zero when no response arrived.
func (c *Client) DoStatus(ctx context.Context, method, path string, body, out any) (int, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	defer c.saveJar(path)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && !isAuthPath(path) {
		c.handleUnauthorized(ctx, path)
		return resp.StatusCode, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: messageOf(data)}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// saveJar persists the jar once the response cycle is over.
func (c *Client) saveJar(path string) {
	if err := c.jar.Save(); err != nil {
		c.log.Warn("persist cookies failed", "path", path, "err", err)
	}
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token, ok := c.jar.Value(u, CSRFCookie); ok {
		req.Header.Set(CSRFHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Error("backend request failed", "method", method, "path", path, "err", err)
		c.nav.Fatal("Erro de conexão com o servidor")
		c.nav.ToLogin("backend unreachable")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	c.log.Debug("backend request", "method", method, "path", path, "status", resp.StatusCode)
	return resp, nil
}

func (c *Client) handleUnauthorized(ctx context.Context, path string) {
	c.log.Warn("session expired", "path", path)
	if err := c.postLogout(ctx); err != nil {
		c.log.Debug("logout after 401 failed", "err", err)
	}
	c.nav.ToLogin("Sessão expirada")
}

// postLogout sends the logout request without going through the 401 path.
func (c *Client) postLogout(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodPost, LogoutPath, nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return c.jar.Clear()
}

func isAuthPath(path string) bool {
	p := "/" + strings.TrimLeft(path, "/")
	return p == LoginPath || p == LogoutPath
}

func messageOf(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) != nil {
		return strings.TrimSpace(string(data))
	}
	switch {
	case body.Message != "":
		return body.Message
	case body.Msg != "":
		return body.Msg
	default:
		return body.Error
	}
}
