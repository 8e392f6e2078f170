package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/honeyecosystem/sync/internal/logging"
	"github.com/honeyecosystem/sync/internal/models"
)

const (
	// DefaultTimeout bounds every request unless overridden per call.
	DefaultTimeout = 20 * time.Second

	refreshPath = "/api/v1/auth/token/refresh/"
)

// TokenSource supplies and maintains the bearer credentials attached to
// authenticated requests.
type TokenSource interface {
	Tokens() (models.SessionTokens, bool)
	SetAccess(access string) error
	Clear() error
}

// Observer receives the outcome of every dispatched request, for metrics.
type Observer func(method, path string, status int, elapsed time.Duration)

// Request describes one API call.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Body     any
	SkipAuth bool
	Timeout  time.Duration
}

// Client dispatches API requests with bearer auth, a single transparent
// refresh-and-retry on 401, a bounded timeout surfaced as status 408, and a
// per-endpoint-group throttle.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	timeout  time.Duration
	throttle *throttle

	observe       Observer
	onAuthExpired func()
}

// Option customises a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithObserver registers a request-outcome callback.
func WithObserver(fn Observer) Option {
	return func(c *Client) { c.observe = fn }
}

// WithAuthExpiredHook registers the callback fired when a refresh attempt
// fails and the session is cleared.
func WithAuthExpiredHook(fn func()) Option {
	return func(c *Client) { c.onAuthExpired = fn }
}

// WithHTTPClient substitutes the underlying transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New constructs a Client for the given API origin.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		tokens:   tokens,
		timeout:  DefaultTimeout,
		throttle: newThrottle(10, time.Second, 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do dispatches the request and decodes a JSON response into out when out is
// non-nil. A plain-text response is returned through out when out is *string.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	status, body, contentType, err := c.dispatch(ctx, req, true)
	if err != nil {
		return err
	}

	if status < 200 || status > 299 {
		return &Error{Message: errorMessage(status, body), Status: status, Body: body}
	}

	if out == nil || len(body) == 0 {
		return nil
	}

	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	if text, ok := out.(*string); ok {
		*text = string(body)
	}
	return nil
}

// Get is shorthand for a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post is shorthand for a JSON POST request.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Patch is shorthand for a JSON PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete is shorthand for a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}

// dispatch sends the request once, refreshing and retrying exactly once on a
// 401. allowRefresh is false on the retry leg so a second 401 cannot loop.
// The per-request timeout covers the throttle wait too, so a saturated
// bucket cannot hold a request beyond the documented bound.
func (c *Client) dispatch(ctx context.Context, req Request, allowRefresh bool) (int, []byte, string, error) {
	var token string
	if !req.SkipAuth {
		tokens, ok := c.tokens.Tokens()
		if !ok {
			return 0, nil, "", ErrNoSession
		}
		token = tokens.AccessToken
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.throttle.wait(callCtx, req.Path); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return 0, nil, "", ctx.Err()
		}
		return 0, nil, "", &Error{Message: "request timed out", Status: StatusTimeout}
	}

	status, body, contentType, err := c.send(callCtx, req, token)
	if err != nil {
		return 0, nil, "", err
	}

	if status == http.StatusUnauthorized && !req.SkipAuth && allowRefresh {
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			return 0, nil, "", refreshErr
		}
		return c.dispatch(ctx, req, false)
	}

	return status, body, contentType, nil
}

// send performs one HTTP round trip. ctx already carries the per-request
// deadline applied by dispatch.
func (c *Client) send(ctx context.Context, req Request, token string) (int, []byte, string, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var payload io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, "", fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, payload)
	if err != nil {
		return 0, nil, "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			c.observed(req.Method, req.Path, StatusTimeout, elapsed)
			return 0, nil, "", &Error{Message: "request timed out", Status: StatusTimeout}
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			// A deliberate shutdown is not a transport failure.
			return 0, nil, "", ctx.Err()
		default:
			c.observed(req.Method, req.Path, StatusNetwork, elapsed)
			return 0, nil, "", &Error{Message: "cannot reach server", Status: StatusNetwork}
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observed(req.Method, req.Path, StatusNetwork, elapsed)
		return 0, nil, "", &Error{Message: "read response body", Status: StatusNetwork}
	}

	c.observed(req.Method, req.Path, resp.StatusCode, elapsed)
	logging.FromContext(ctx).Debug("api request",
		"method", req.Method, "path", req.Path, "status", resp.StatusCode, "duration", elapsed)

	return resp.StatusCode, body, resp.Header.Get("Content-Type"), nil
}

// refresh exchanges the stored refresh token for a new access token. On any
// failure the whole session is cleared and the auth-expired hook fires; no
// further authenticated call can go out until a new login stores credentials.
func (c *Client) refresh(ctx context.Context) error {
	tokens, ok := c.tokens.Tokens()
	if !ok || tokens.RefreshToken == "" {
		c.expireSession()
		return &Error{Message: "session expired", Status: http.StatusUnauthorized}
	}

	status, body, _, err := c.dispatch(ctx, Request{
		Method:   http.MethodPost,
		Path:     refreshPath,
		Body:     map[string]string{"refresh": tokens.RefreshToken},
		SkipAuth: true,
	}, false)
	if err != nil {
		// A shutdown mid-refresh must not wipe an otherwise valid session.
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.expireSession()
		return &Error{Message: "session expired", Status: http.StatusUnauthorized}
	}
	if status < 200 || status > 299 {
		c.expireSession()
		return &Error{Message: "session expired", Status: http.StatusUnauthorized, Body: body}
	}

	var refreshed struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(body, &refreshed); err != nil || refreshed.Access == "" {
		c.expireSession()
		return &Error{Message: "session expired", Status: http.StatusUnauthorized}
	}

	if err := c.tokens.SetAccess(refreshed.Access); err != nil {
		return fmt.Errorf("store refreshed token: %w", err)
	}
	return nil
}

func (c *Client) expireSession() {
	_ = c.tokens.Clear()
	if c.onAuthExpired != nil {
		c.onAuthExpired()
	}
}

func (c *Client) observed(method, path string, status int, elapsed time.Duration) {
	if c.observe != nil {
		c.observe(method, path, status, elapsed)
	}
}
