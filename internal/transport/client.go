// Package transport is the outbound HTTP collaborator used by api_call nodes.
package transport

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

	"github.com/rendis/nodegraph/internal/logging"
	"github.com/rendis/nodegraph/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultTimeout         = 30 * time.Second
)

// ErrBodyTooLarge marks a response whose body exceeded MaxResponseBody.
var ErrBodyTooLarge = errors.New("response body too large")

// Request is one outbound call. Body, when non-nil, is JSON-encoded.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// Response carries the status and the parsed body: decoded JSON when the
// payload is JSON, the raw text otherwise, nil when empty.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Caller performs HTTP calls. Non-2xx statuses are responses, not errors;
// errors mean no response was obtained.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Config configures the Client.
type Config struct {
	Timeout         time.Duration
	MaxResponseBody int64
	Retry           RetryPolicy
	Breaker         BreakerConfig
}

// Client is the net/http implementation of Caller with bounded retries on
// transport failures and a circuit breaker per host.
type Client struct {
	http     *http.Client
	config   Config
	breakers *BreakerRegistry
	logger   *slog.Logger
}

// NewClient creates a Client. Zero config values take defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = DefaultBreakerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Client{
		http:     &http.Client{Transport: transport},
		config:   cfg,
		breakers: NewBreakerRegistry(cfg.Breaker),
		logger:   logger,
	}
}

// Breakers exposes the per-host breaker registry.
func (c *Client) Breakers() *BreakerRegistry { return c.breakers }

// Call performs req, retrying transport failures per the retry policy.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, schema.NewErrorf(schema.ErrCodeTransport, "invalid url %q", req.URL)
	}

	var payload []byte
	if req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeTransport, "request body is not JSON-encodable").WithCause(err)
		}
	}

	host := u.Host
	attempts := c.config.Retry.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.config.Retry.Backoff(attempt - 1)
			logging.LogWith(ctx, c.logger).Debug("retrying http call",
				slog.String("host", host), slog.Int("attempt", attempt), slog.Duration("delay", delay))
			if err := WaitForBackoff(ctx, delay); err != nil {
				return nil, transportErr(method, req.URL, err)
			}
		}

		if err := c.breakers.Allow(host); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, method, req.URL, req.Headers, payload)
		if err == nil {
			c.breakers.RecordSuccess(host)
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrBodyTooLarge) {
			// The host answered; only the payload is unusable.
			c.breakers.RecordSuccess(host)
			break
		}
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about the host.
			c.breakers.Release(host)
			break
		}
		c.breakers.RecordFailure(host)

		if !IsRetryable(ctx, err) {
			break
		}
	}
	return nil, transportErr(method, req.URL, lastErr)
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string, payload []byte) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(raw)) > c.config.MaxResponseBody {
		return nil, schema.NewErrorf(schema.ErrCodeTransport,
			"%s %s: response body exceeds %d bytes", method, rawURL, c.config.MaxResponseBody).
			WithDetails(map[string]any{"status": resp.StatusCode, "limit": c.config.MaxResponseBody}).
			WithCause(ErrBodyTooLarge)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: respHeaders,
		Body:    ParseBody(resp.Header.Get("Content-Type"), raw),
	}, nil
}

// ParseBody decodes raw as JSON when the content type says so or the
// payload looks like a JSON document, falling back to the raw text.
func ParseBody(contentType string, raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	looksJSON := trimmed[0] == '{' || trimmed[0] == '['
	if strings.Contains(contentType, "json") || looksJSON {
		var decoded any
		if err := json.Unmarshal(trimmed, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}

func transportErr(method, rawURL string, err error) error {
	if nErr, ok := err.(*schema.Error); ok {
		return nErr
	}
	return schema.NewErrorf(schema.ErrCodeTransport, "%s %s: %v", method, rawURL, err).WithCause(err)
}

var _ Caller = (*Client)(nil)
