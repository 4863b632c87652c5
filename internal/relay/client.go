// Package relay is the HTTP client for the gasless relay. Every response is
// decoded into a typed value and checked for required fields before it is
// returned.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Client is a relay REST client.
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	maxRetries    int
	retryInterval time.Duration
	metrics       *Metrics
	log           *zap.Logger
}

type Option func(*Client)

func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = key } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRetries sets how many times an idempotent GET is retried on transport
// errors, 429 and 5xx. POSTs are never retried.
func WithRetries(n int, initial time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.retryInterval = initial
	}
}

func WithMetrics(m *Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		http:          &http.Client{Timeout: 30 * time.Second},
		maxRetries:    3,
		retryInterval: 200 * time.Millisecond,
		log:           zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// request describes one relay exchange. endpoint is the route template used
// in errors and metrics; path is the concrete URL path.
type request struct {
	method   string
	endpoint string
	path     string
	headers  *Headers
	admin    bool
	body     any
}

func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	if r.path == "" {
		r.path = r.endpoint
	}
	var payload []byte
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("relay %s: marshal body: %w", r.endpoint, err)
		}
		payload = b
	}

	if r.method != http.MethodGet || c.maxRetries <= 0 {
		return c.attempt(ctx, r, payload)
	}

	var out []byte
	tries := 0
	op := func() error {
		if tries > 0 {
			c.metrics.retried(r.endpoint)
		}
		tries++
		b, err := c.attempt(ctx, r, payload)
		if err != nil {
			var re *Error
			if errors.As(err, &re) && !retryable(re.StatusCode) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = b
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryInterval
	exp.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxRetries)), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) attempt(ctx context.Context, r request, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", r.endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(HeaderRequestID, reqID)
	if r.headers != nil {
		r.headers.apply(req.Header)
	}
	if r.admin {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(r.endpoint, "error", time.Since(start))
		c.log.Warn("relay request failed",
			zap.String("endpoint", r.endpoint),
			zap.String("request_id", reqID),
			zap.Error(err))
		return nil, fmt.Errorf("relay %s %s: %w", r.method, r.endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.metrics.observe(r.endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("relay %s %s: read body: %w", r.method, r.endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		re := &Error{
			StatusCode: resp.StatusCode,
			Method:     r.method,
			Endpoint:   r.endpoint,
			Message:    messageFrom(raw),
		}
		c.log.Warn("relay error response",
			zap.String("endpoint", r.endpoint),
			zap.String("request_id", reqID),
			zap.Int("status", resp.StatusCode),
			zap.String("message", re.Message))
		return nil, re
	}
	c.log.Debug("relay request",
		zap.String("endpoint", r.endpoint),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return raw, nil
}

// sendJSON performs r and decodes a JSON object into out.
func (c *Client) sendJSON(ctx context.Context, r request, out any) error {
	raw, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.malformed(r, fmt.Sprintf("decode: %v", err))
	}
	return nil
}

func (c *Client) malformed(r request, msg string) *Error {
	return &Error{
		StatusCode: http.StatusOK,
		Method:     r.method,
		Endpoint:   r.endpoint,
		Message:    msg,
		Err:        ErrMalformed,
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}
