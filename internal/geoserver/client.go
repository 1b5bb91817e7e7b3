package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	// BaseURL is the GeoServer root, e.g. http://host:8080/geoserver.
	BaseURL  string
	Username string
	Password string

	// Timeout for individual requests (default: 30s).
	Timeout time.Duration

	// MaxRetries for requests failing with 429 or 5xx (default: 3).
	MaxRetries int

	// RateLimit requests per second shared by all workers (default: 10).
	RateLimit float64

	// RateBurst maximum burst size (default: 5).
	RateBurst int

	// Transport allows injecting a custom HTTP transport.
	Transport http.RoundTripper
}

// Client is a rate-limited, retrying client for the GeoServer REST API.
// It is safe for concurrent use.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	backoff     time.Duration
}

// NewClient creates a client, filling unset config fields with defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		backoff:     100 * time.Millisecond,
	}
}

// request is one REST call.
type request struct {
	method      string
	path        string // relative to /rest
	contentType string
	body        []byte
}

// response is a fully read REST response.
type response struct {
	StatusCode int
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// HTTPError is a non-2xx GeoServer response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return fmt.Sprintf("geoserver %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// ErrNotFound matches 404 responses via errors.Is.
var ErrNotFound = errors.New("geoserver: not found")

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

func (e *HTTPError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// do executes a request with rate limiting and retry on 429/5xx and
// transport errors.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * c.backoff
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, req request) (*response, error) {
	url := c.config.BaseURL + "/rest/" + strings.TrimPrefix(req.path, "/")

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if c.config.Username != "" {
		httpReq.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Message:    string(data),
		}
	}
	return &response{StatusCode: resp.StatusCode, Body: data}, nil
}

// transportError marks connection-level failures, which are retried.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "geoserver request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.retryable()
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

func (c *Client) get(ctx context.Context, path string) (*response, error) {
	return c.do(ctx, request{method: http.MethodGet, path: path})
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any) (*response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return c.do(ctx, request{method: method, path: path, contentType: "application/json", body: data})
}

// exists turns a GET into a presence check.
func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	_, err := c.get(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
