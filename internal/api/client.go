// Package api is the HTTP client for the Notification API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/assetdash/internal/model"
)

// TokenSource supplies the bearer credential for each request. Returning
// an empty token sends the request unauthenticated.
type TokenSource func() (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

// ListOptions controls GET /notifications.
type ListOptions struct {
	// Since requests only records changed at or after this instant.
	// Nil requests a full listing.
	Since       *time.Time
	Limit       int
	IncludeRead bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetry sets how many times a 429/5xx or transport failure is retried
// and the backoff bounds between attempts.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// Client is a thin HTTP client for the Notification API. It handles
// bearer authentication, JSON marshaling, and retry with exponential
// backoff on HTTP 429 and 5xx.
type Client struct {
	baseURL    string
	token      TokenSource
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a client rooted at baseURL (e.g. http://127.0.0.1:8090).
func NewClient(baseURL string, token TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxRetries: 2,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List fetches notifications. A nil Since yields an authoritative full
// listing; otherwise only changes since that instant are returned.
func (c *Client) List(ctx context.Context, opts ListOptions) (model.ListResponse, error) {
	q := url.Values{}
	if opts.Since != nil {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339Nano))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	q.Set("includeRead", strconv.FormatBool(opts.IncludeRead))

	var out model.ListResponse
	err := c.do(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil, &out)
	if out.Notifications == nil {
		out.Notifications = []model.Notification{}
	}
	return out, err
}

// MarkRead marks a single notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every notification of the user read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
}

// Archive moves a notification to the archived state.
func (c *Client) Archive(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/archive", nil, nil)
}

// Delete removes a notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}

// Stats returns aggregate counts.
func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	var out model.Stats
	err := c.do(ctx, http.MethodGet, "/notifications/stats", nil, &out)
	return out, err
}

// Settings returns the user's notification preferences.
func (c *Client) Settings(ctx context.Context) (model.Settings, error) {
	var out model.Settings
	err := c.do(ctx, http.MethodGet, "/notifications/settings", nil, &out)
	return out, err
}

// UpdateSettings stores new preferences and returns what the server kept.
func (c *Client) UpdateSettings(ctx context.Context, s model.Settings) (model.Settings, error) {
	var out model.Settings
	err := c.do(ctx, http.MethodPost, "/notifications/settings", s, &out)
	return out, err
}

// do builds the request, handles auth, retries transient failures, and
// decodes the JSON response into result when it is non-nil.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body any,
	result any,
) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	token := ""
	if c.token != nil {
		t, err := c.token()
		if err != nil {
			return fmt.Errorf("resolving credential: %w", err)
		}
		token = t
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", uuid.NewString())
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &AuthError{
				StatusCode: resp.StatusCode,
				Message:    errorMessage(respBody, resp.Status),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			httpErr := newHTTPError(resp.StatusCode, respBody)
			if httpErr.Temporary() && attempt < c.maxRetries {
				delay := c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))
				if waitErr := waitWithContext(ctx, delay); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%s %s: %w", method, path, httpErr)
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}
		return nil
	}
}

func newHTTPError(status int, body []byte) *HTTPError {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && (eb.Code != "" || eb.Message != "") {
		return &HTTPError{StatusCode: status, Code: eb.Code, Message: eb.Message}
	}
	return &HTTPError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func errorMessage(body []byte, fallback string) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
		return eb.Message
	}
	return fallback
}

// retryDelay grows exponentially from baseDelay, capped at maxDelay. A
// Retry-After header takes precedence when present.
func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
