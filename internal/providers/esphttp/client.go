// Package esphttp is the outbound HTTP client every provider adapter uses.
// Each call waits on the provider's rate limiter, runs inside its circuit
// breaker and is retried on transient failures.
package esphttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"esphub/internal/observability"
)

const maxResponseBytes = 4 << 20

// Auth decorates an outgoing request with credentials.
type Auth func(*http.Request)

func Bearer(token string) Auth {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func Header(name, value string) Auth {
	return func(r *http.Request) { r.Header.Set(name, value) }
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Status   int
	Body     []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, body)
}

type Client struct {
	Provider string
	BaseURL  string
	HTTP     *http.Client
	Limiter  *rate.Limiter
	Breaker  *gobreaker.CircuitBreaker
	// Headers are sent on every request (API version pins and the like).
	Headers     map[string]string
	MaxAttempts int
	// Sleep is swapped in tests to skip backoff waits.
	Sleep func(time.Duration)
}

// Options configure New.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	RPS         float64
	Burst       int
	Headers     map[string]string
	MaxAttempts int
}

func New(provider string, o Options) *Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if o.RPS > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.RPS), burst)
	}
	return &Client{
		Provider:    provider,
		BaseURL:     strings.TrimRight(o.BaseURL, "/"),
		HTTP:        &http.Client{Timeout: timeout},
		Limiter:     limiter,
		Breaker:     NewBreaker(provider),
		Headers:     o.Headers,
		MaxAttempts: o.MaxAttempts,
	}
}

// NewBreaker trips after ten consecutive failures. Client errors other than
// 408 and 429 are the caller's fault and do not count against the provider.
func NewBreaker(provider string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !ShouldRetry(nil, se.Status)
			}
			return err == nil
		},
	})
}

// JSON sends body (if non-nil) as JSON and decodes a JSON response into out
// (if non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, query url.Values, body any, auth Auth, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.Provider, err)
		}
		payload = b
	}
	raw, err := c.Do(ctx, method, path, query, "application/json", payload, auth)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.Provider, err)
	}
	return nil
}

// Do sends payload with contentType and returns the raw 2xx response body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, contentType string, payload []byte, auth Auth) ([]byte, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if c.Limiter != nil {
			waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
			err := c.Limiter.Wait(waitCtx)
			cancelWait()
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				observability.ProviderCalls.WithLabelValues(c.Provider, "rate_limited_local", "0").Inc()
				lastErr = err
				sleep(200 * time.Millisecond)
				continue
			}
		}

		start := time.Now()
		raw, status, err := c.executeWithBreaker(ctx, method, path, query, contentType, payload, auth)
		observability.ProviderLatency.WithLabelValues(c.Provider).Observe(time.Since(start).Seconds())

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.ProviderCalls.WithLabelValues(c.Provider, "cb_open", "0").Inc()
			return nil, err
		}
		if err == nil {
			observability.ProviderCalls.WithLabelValues(c.Provider, "ok", strconv.Itoa(status)).Inc()
			return raw, nil
		}

		observability.ProviderCalls.WithLabelValues(c.Provider, "error", strconv.Itoa(status)).Inc()
		lastErr = err
		if !ShouldRetry(err, status) || ctx.Err() != nil {
			return nil, err
		}
		sleep(Backoff(attempt))
	}
	return nil, lastErr
}

func (c *Client) executeWithBreaker(ctx context.Context, method, path string, query url.Values, contentType string, payload []byte, auth Auth) ([]byte, int, error) {
	var status int
	call := func() (any, error) {
		raw, st, err := c.send(ctx, method, path, query, contentType, payload, auth)
		status = st
		if err != nil {
			return nil, err
		}
		return raw, nil
	}

	var res any
	var err error
	if c.Breaker == nil {
		res, err = call()
	} else {
		res, err = c.Breaker.Execute(call)
	}
	if err != nil {
		return nil, status, err
	}
	return res.([]byte), status, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, contentType string, payload []byte, auth Auth) ([]byte, int, error) {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	if auth != nil {
		auth(req)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &StatusError{Provider: c.Provider, Status: resp.StatusCode, Body: raw}
	}
	return raw, resp.StatusCode, nil
}

// ShouldRetry reports whether a failed call is worth repeating.
func ShouldRetry(err error, httpStatus int) bool {
	if httpStatus == 0 && err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		return false
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus == http.StatusRequestTimeout {
		return true
	}
	return httpStatus >= 500 && httpStatus <= 599
}

func Backoff(attempt int) time.Duration {
	// 200ms, 600ms, 1400ms
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
