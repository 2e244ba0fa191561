// Package httpclient is a small retrying HTTP client shared by the price
// oracle and the relay SDK. Retries use exponential backoff and only fire
// on transport errors and retryable status codes.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPError is a non-2xx response surfaced as an error.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Method     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d %s: %s", e.Method, e.URL, e.StatusCode, e.Status, e.Body)
}

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	MaxRetries           int
	InitialInterval      time.Duration
	MaxInterval          time.Duration
	Multiplier           float64
	MaxElapsedTime       time.Duration
	RetryableStatusCodes []int
}

// DefaultRetryConfig provides sensible defaults for retries.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:           3,
		InitialInterval:      100 * time.Millisecond,
		MaxInterval:          10 * time.Second,
		Multiplier:           2.0,
		MaxElapsedTime:       30 * time.Second,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// Client wraps http.Client with a base URL, default headers, and retries.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	defaultHeaders map[string]string
	retryConfig    *RetryConfig
}

// Option mutates the client during construction.
type Option func(*Client)

// WithBaseURL sets the base URL prepended to request paths.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHeader sets a default header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.defaultHeaders[key] = value }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetryConfig replaces the retry configuration.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *Client) { c.retryConfig = cfg }
}

// New creates a client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		defaultHeaders: make(map[string]string),
		retryConfig:    DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// PostJSON performs a POST with a JSON body and decodes the response into
// out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body []byte

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		for key, value := range c.defaultHeaders {
			req.Header.Set(key, value)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			httpErr := &HTTPError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				URL:        req.URL.String(),
				Method:     method,
				Body:       string(respBody),
			}
			if c.retryable(resp.StatusCode) {
				return httpErr
			}
			return backoff.Permanent(httpErr)
		}

		body = respBody
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryConfig.InitialInterval
	policy.MaxInterval = c.retryConfig.MaxInterval
	policy.Multiplier = c.retryConfig.Multiplier
	policy.MaxElapsedTime = c.retryConfig.MaxElapsedTime

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.retryConfig.MaxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) retryable(statusCode int) bool {
	for _, code := range c.retryConfig.RetryableStatusCodes {
		if code == statusCode {
			return true
		}
	}
	return false
}
