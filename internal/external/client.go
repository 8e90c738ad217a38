// Package external is the anti-corruption layer between turfwatch domain
// logic and upstream data providers. Every outbound HTTP call flows through
// BaseClient, which applies circuit breaking, bounded retries with jittered
// backoff, trace propagation, and mapping of transport failures onto the
// provider error codes the engine understands.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"turfwatch/internal/types"
)

// RetryPolicy bounds the retry loop in BaseClient.Do.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy suits the polling cadence: three retries keep a
// transient provider hiccup inside one poll interval.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker and retry loop.
// The forecast and soil-station clients embed one each, so a misbehaving
// provider trips only its own breaker.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleep       func(time.Duration)
}

// BaseClientOption configures optional BaseClient behavior.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces the inter-retry sleep. Tests use this to run the
// backoff schedule without real delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleep = fn
	}
}

// breakerSettings is shared by every provider breaker: trip after five
// consecutive failures, probe with a single request after 30s.
func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	}
}

// NewBaseClient builds a BaseClient with its own circuit breaker named
// breakerName.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](breakerSettings(breakerName))
	return NewBaseClientWithBreaker(httpClient, breaker, retryPolicy, userAgent, opts...)
}

// NewBaseClientWithBreaker builds a BaseClient around a caller-supplied
// breaker, letting tests observe breaker state or clients share one.
func NewBaseClientWithBreaker(
	httpClient *http.Client,
	breaker *gobreaker.CircuitBreaker[*http.Response],
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		breaker:     breaker,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes req with the full resilience stack: the request ID from the
// context is propagated as X-Request-Id, the User-Agent identifies the
// service, 429 and 5xx responses are retried up to MaxRetries times with
// backoff, and the circuit breaker sees each attempt.
//
// A 2xx/3xx/4xx (except 429) response is returned as-is, body open, for the
// caller to consume and close. Exhausted retries and an open breaker come
// back as a *types.AppError carrying a provider error code.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	rewind, err := replayableBody(req)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to read request body for retry support",
			err,
		)
	}

	var lastResp *http.Response
	var lastErr error

	attempts := c.retryPolicy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// The previous response informs the wait (Retry-After), so
			// sleep before discarding it.
			c.sleep(c.backoffWait(attempt-1, lastResp))
		}
		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}

		if err := rewind(); err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to rewind request body for retry",
				err,
			)
		}

		resp, err := c.attempt(req)
		if err == nil {
			return resp, nil
		}
		lastResp, lastErr = resp, err

		// An open breaker fails every subsequent attempt too; stop early.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// attempt runs one request through the breaker. 429 and 5xx statuses count
// as breaker failures even though the transport succeeded.
func (c *BaseClient) attempt(req *http.Request) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return resp, fmt.Errorf("upstream returned 429")
		case resp.StatusCode >= 500:
			return resp, fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		return resp, nil
	})
}

// replayableBody prepares req so its body can be restored before every
// attempt. Requests built by http.NewRequest from in-memory readers expose
// GetBody and are reopened from the source; anything else is drained once
// and replayed from the buffer. The returned rewind is a no-op for bodyless
// requests.
func replayableBody(req *http.Request) (func() error, error) {
	if req.Body == nil {
		return func() error { return nil }, nil
	}

	if req.GetBody != nil {
		return func() error {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			req.Body = body
			return nil
		}, nil
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.ContentLength = int64(len(data))

	return func() error {
		req.Body = io.NopCloser(bytes.NewReader(data))
		return nil
	}, nil
}

// backoffWait picks the pause after a failed attempt. A parseable
// Retry-After wins; otherwise exponential backoff with full jitter,
// clamped to [MinWait, MaxWait].
func (c *BaseClient) backoffWait(attempt int, resp *http.Response) time.Duration {
	if wait, ok := retryAfterWait(resp, c.retryPolicy.MaxWait); ok {
		if wait < c.retryPolicy.MinWait {
			return c.retryPolicy.MinWait
		}
		return wait
	}

	ceiling := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	if max := float64(c.retryPolicy.MaxWait); ceiling > max {
		ceiling = max
	}

	floor := float64(c.retryPolicy.MinWait)
	if ceiling <= floor {
		return c.retryPolicy.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

// retryAfterWait reads the Retry-After header in either of its two forms
// (delta-seconds or HTTP-date) and caps the result at maxWait.
func retryAfterWait(resp *http.Response, maxWait time.Duration) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return min(time.Duration(seconds)*time.Second, maxWait), true
	}
	if at, err := http.ParseTime(header); err == nil {
		wait := time.Until(at)
		if wait <= 0 {
			return 0, true
		}
		return min(wait, maxWait), true
	}
	return 0, false
}

// mapError turns the terminal failure of the retry loop into the AppError
// the evaluation pipeline reports.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeProviderRateLimited,
			"circuit breaker is open; provider unavailable",
			err,
		)
	}

	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppError(
				types.ErrCodeProviderRateLimited,
				"provider rate limit exceeded",
				err,
			)
		}
		if resp.StatusCode >= 500 {
			return types.NewAppError(
				types.ErrCodeProviderUnavailable,
				fmt.Sprintf("provider returned %d after retries", resp.StatusCode),
				err,
			)
		}
	}

	return types.NewAppError(
		types.ErrCodeProviderUnavailable,
		"provider request failed",
		err,
	)
}
