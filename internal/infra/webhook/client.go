// Package webhook forwards JSON payloads to the workflow engine's webhooks
// with per-attempt timeouts and jittered exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/flowgate/internal/core/backoff"
	"github.com/vietddude/flowgate/internal/core/trace"
	"github.com/vietddude/flowgate/internal/metrics"
)

// DefaultMaxResponseBytes caps how much of an engine response is buffered.
const DefaultMaxResponseBytes int64 = 10 << 20

// Client calls workflow engine webhooks.
type Client struct {
	baseURL    string
	maxBody    int64
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	delay      func(attempt int, base, max time.Duration) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for retry warnings.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSleep replaces the inter-attempt wait. It must return ctx.Err() when
// ctx is done first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithBackoff replaces the delay calculation.
func WithBackoff(delay func(attempt int, base, max time.Duration) time.Duration) Option {
	return func(c *Client) {
		if delay != nil {
			c.delay = delay
		}
	}
}

// WithMaxResponseBytes sets the largest response body accepted. Larger
// bodies fail the call with ErrResponseTooLarge.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// NewClient creates a webhook client rooted at baseURL. An empty baseURL is
// accepted; every Call then fails with ErrNotConfigured.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		maxBody: DefaultMaxResponseBytes,
		// Per-attempt deadlines come from the request context, not Client.Timeout.
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:   slog.Default(),
		sleep: sleepContext,
		delay: backoff.Delay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is one forwarding call.
type Request struct {
	// Operation is appended to the base URL as a path segment.
	Operation string
	// Payload is JSON-encoded as the request body.
	Payload any
	// Header holds extra request headers.
	Header http.Header
}

// Response is what the workflow engine answered on the last attempt.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Payload is the decoded JSON body, nil when the body is empty or not JSON.
	Payload  any
	Attempts []Attempt
}

// OK reports whether the status is below 400.
func (r *Response) OK() bool {
	return r.StatusCode < http.StatusBadRequest
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Destination returns the URL an operation is posted to.
func (c *Client) Destination(operation string) string {
	operation = strings.TrimLeft(operation, "/")
	if operation == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + operation
}

// Call posts req to the workflow engine under policy.
//
// Transport failures and 5xx responses are retried; 4xx responses are
// returned at once. When retries run out, a transport failure is returned as
// *ExhaustedError and a 5xx as the last *Response with a nil error.
func (c *Client) Call(ctx context.Context, req Request, policy Policy) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	dest := c.Destination(req.Operation)
	correlationID := trace.CorrelationID(ctx)
	maxRetries := max(policy.MaxRetries, 0)
	attempts := make([]Attempt, 0, maxRetries+1)

	for i := 0; ; i++ {
		resp, att := c.attempt(ctx, dest, body, req.Header, correlationID, i, policy.PerAttemptTimeout)
		attempts = append(attempts, att)

		metrics.WebhookAttemptsTotal.WithLabelValues(req.Operation, att.Outcome.String()).Inc()
		metrics.WebhookAttemptLatency.WithLabelValues(req.Operation).Observe(att.Elapsed.Seconds())

		if att.Outcome != OutcomeRetryable {
			if resp == nil {
				return nil, att.Err
			}
			resp.Attempts = attempts
			return resp, nil
		}

		if i >= maxRetries {
			if resp != nil {
				resp.Attempts = attempts
				return resp, nil
			}
			return nil, &ExhaustedError{Destination: dest, Attempts: attempts, Err: att.Err}
		}

		delay := c.delay(i, policy.BaseDelay, policy.MaxDelay)
		if policy.OnRetry != nil {
			policy.OnRetry(RetryEvent{
				CorrelationID: correlationID,
				Destination:   dest,
				Attempt:       i + 1,
				Delay:         delay,
				Err:           att.Err,
			})
		}
		c.log.Warn("Webhook call failed, retrying",
			"correlation_id", correlationID,
			"destination", dest,
			"attempt", i+1,
			"max_attempts", maxRetries+1,
			"delay", delay,
			"error", att.Err,
		)
		metrics.WebhookRetriesTotal.WithLabelValues(req.Operation).Inc()

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs a single try. The response is nil on transport failure.
func (c *Client) attempt(
	ctx context.Context,
	dest string,
	body []byte,
	header http.Header,
	correlationID string,
	index int,
	timeout time.Duration,
) (*Response, Attempt) {
	start := time.Now()
	att := Attempt{Index: index}

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		att.Outcome = OutcomeTerminal
		att.Err = fmt.Errorf("create request: %w", err)
		return nil, att
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		httpReq.Header.Set(trace.HeaderCorrelationID, correlationID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFailure(ctx, att, start, fmt.Errorf("webhook call: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, transportFailure(ctx, att, start, fmt.Errorf("read response: %w", err))
	}
	att.Elapsed = time.Since(start)
	att.StatusCode = resp.StatusCode

	if int64(len(data)) > c.maxBody {
		att.Outcome = OutcomeTerminal
		att.Err = fmt.Errorf("%w: more than %d bytes from %s", ErrResponseTooLarge, c.maxBody, dest)
		return nil, att
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Payload:    decodePayload(data),
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		att.Outcome = OutcomeRetryable
		att.Err = &StatusError{StatusCode: resp.StatusCode, Body: snippet(data)}
	case resp.StatusCode >= http.StatusBadRequest:
		att.Outcome = OutcomeTerminal
		att.Err = &StatusError{StatusCode: resp.StatusCode, Body: snippet(data)}
	default:
		att.Outcome = OutcomeSuccess
	}
	return out, att
}

// transportFailure is retryable unless the caller's own context ended.
func transportFailure(ctx context.Context, att Attempt, start time.Time, err error) Attempt {
	att.Elapsed = time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		att.Outcome = OutcomeTerminal
		att.Err = ctxErr
		return att
	}
	att.Outcome = OutcomeRetryable
	att.Err = err
	return att
}

func decodePayload(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

func snippet(data []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "...(" + strconv.Itoa(len(s)) + " bytes)"
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
