// Package archive fetches daily historical weather payloads from the
// Open-Meteo archive API: bounded retry on transient failures, adaptive
// pruning of variables the API rejects, and lazy chunked iteration over the
// requested date range.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// ErrRetriesExhausted is returned by Client.Get when every attempt failed
// with a transient fault. It is distinct from a clean non-retryable HTTP
// response, which is returned to the caller unmodified.
var ErrRetriesExhausted = errors.New("archive: retries exhausted")

// retryableStatus is the set of HTTP status codes recovered via backoff.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// statusError carries a retryable HTTP status (and its Retry-After hint)
// through the circuit breaker as a failure.
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("archive: transient status %d", e.code)
}

// Client issues GET requests against the archive with bounded retry/backoff
// on connection errors and transient status codes. A circuit breaker guards
// the archive host across the run.
type Client struct {
	hc          *http.Client
	maxAttempts int
	breaker     *gobreaker.CircuitBreaker
	backoff     time.Duration // initial backoff delay
	log         *slog.Logger
}

// NewClient creates a Client. maxAttempts below 1 is a configuration error.
func NewClient(timeout time.Duration, maxAttempts int, log *slog.Logger) (*Client, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("archive: max attempts must be at least 1, got %d", maxAttempts)
	}
	if log == nil {
		log = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "open-meteo-archive",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		hc:          &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		breaker:     breaker,
		backoff:     backoffBase,
		log:         log,
	}, nil
}

// Get performs a GET against rawURL with the given query parameters. It
// retries connection failures and the transient status set with capped
// exponential backoff, honoring a server Retry-After hint when present.
// Non-retryable statuses (including 400) are returned to the caller with
// the body intact. When the attempt budget is spent the returned error
// wraps ErrRetriesExhausted.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("archive: parsing url %q: %w", rawURL, err)
	}
	u.RawQuery = params.Encode()

	var lastErr error
	delay := c.backoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, u.String())
		if err == nil {
			return resp, nil
		}

		var se *statusError
		if errors.As(err, &se) {
			lastErr = err
			if se.retryAfter > 0 {
				// Server hint overrides the computed backoff for this wait.
				if attempt < c.maxAttempts {
					if werr := c.wait(ctx, se.retryAfter); werr != nil {
						return nil, werr
					}
					delay = min(delay*2, backoffCap)
				}
				continue
			}
		} else if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastErr = err
		} else if isConnectionError(err) {
			lastErr = err
		} else {
			return nil, err
		}

		if attempt < c.maxAttempts {
			c.log.Debug("retrying archive request", "attempt", attempt, "delay", delay.String(), "error", lastErr)
			if werr := c.wait(ctx, delay); werr != nil {
				return nil, werr
			}
			delay = min(delay*2, backoffCap)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

// attempt runs one request through the circuit breaker. On a retryable
// status the response body is drained and a statusError is returned so the
// breaker counts the failure; any other response passes through untouched.
func (c *Client) attempt(ctx context.Context, fullURL string) (*http.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, err
		}

		if retryableStatus[resp.StatusCode] {
			hint := parseRetryAfter(resp.Header.Get("Retry-After"))
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &statusError{code: resp.StatusCode, retryAfter: hint}
		}

		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// wait sleeps for d or returns early when ctx is cancelled.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// isConnectionError reports whether err is a transport-level failure worth
// retrying (anything the http client returns that is not a context end).
func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return err != nil
}
