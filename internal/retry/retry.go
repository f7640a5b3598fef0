package retry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"TubeDigest/internal/domain"
)

// RateLimitMode selects how a policy reacts to HTTP 429.
type RateLimitMode int

const (
	// HonorHint sleeps for the server-declared delay and retries. The
	// attempt consumes a loop slot but is not treated as a failure signal.
	HonorHint RateLimitMode = iota
	// FailFast surfaces domain.ErrRateLimited immediately without retrying.
	FailFast
)

const defaultHintWait = 5 * time.Second

// Response is the minimal view of an HTTP exchange that the policy classifies.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FromHTTP drains and closes an http.Response into a classifiable Response.
func FromHTTP(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Policy is a reusable retry/backoff value shared by all outbound clients.
// Classification is uniform: 2xx success, 429 per RateLimit mode, other 4xx
// terminal, 5xx and transport errors retried per the Backoff schedule.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
	RateLimit   RateLimitMode

	// RetryAfter extracts the server-declared wait from a 429 response.
	// Used only in HonorHint mode; nil falls back to a 5 second wait.
	RetryAfter func(*Response) time.Duration

	// Terminal optionally maps a non-429 4xx response to a typed error.
	// Returning nil falls through to a generic StatusError.
	Terminal func(*Response) error

	// Sleep is injectable for tests; nil uses a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do executes op until success, a terminal failure, or attempt exhaustion.
// The last retryable failure is surfaced once attempts run out.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op func(context.Context) (*Response, error)) (*Response, error) {
	max := p.MaxAttempts
	if max <= 0 {
		max = 3
	}

	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		resp, err := op(ctx)
		if err != nil {
			lastErr = fmt.Errorf("transport error: %w", err)
		} else {
			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return resp, nil

			case resp.StatusCode == http.StatusTooManyRequests:
				if p.RateLimit == FailFast {
					return nil, fmt.Errorf("%w (HTTP 429)", domain.ErrRateLimited)
				}
				wait := p.hintWait(resp)
				p.warn(logger, "rate limited, honoring server hint",
					"attempt", attempt+1, "max_attempts", max, "wait", wait)
				lastErr = fmt.Errorf("%w (HTTP 429)", domain.ErrRateLimited)
				if serr := p.sleep(ctx, wait); serr != nil {
					return nil, serr
				}
				continue

			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				if p.Terminal != nil {
					if terr := p.Terminal(resp); terr != nil {
						return nil, terr
					}
				}
				return nil, &domain.StatusError{Code: resp.StatusCode, Body: clip(resp.Body, 200)}

			default:
				lastErr = &domain.StatusError{Code: resp.StatusCode}
			}
		}

		if attempt < max-1 {
			wait := p.backoffWait(attempt)
			p.warn(logger, "retrying after failure",
				"attempt", attempt+1, "max_attempts", max, "wait", wait, "error", lastErr)
			if serr := p.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
		}
	}

	return nil, lastErr
}

func (p Policy) hintWait(resp *Response) time.Duration {
	if p.RetryAfter == nil {
		return defaultHintWait
	}
	if wait := p.RetryAfter(resp); wait > 0 {
		return wait
	}
	return defaultHintWait
}

func (p Policy) backoffWait(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return defaultHintWait
	}
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt]
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (p Policy) warn(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clip(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n])
	}
	return string(body)
}
