package gateway

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/user/deepscout/pkg/llm"
)

// RetryPolicy controls how failed remote calls are retried with exponential
// backoff. It covers the synchronous calls a run makes (chat completion, job
// submission, uploads); the job watcher has its own cadence-based policy for
// polling.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 3 attempts, 1s initial delay, 2x multiplier, 30s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return p.isRetryable(err)
}

// isRetryable classifies errors as retryable or permanent. The llm error
// taxonomy is checked first: a missing credential never recovers on retry, a
// rate limit always does, and 4xx responses mean the request itself is bad.
// Untyped errors fall back to message matching, defaulting to retryable.
func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, llm.ErrNoAPIKey) {
		return false
	}
	var rateErr *llm.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		// Status 0 is a transport failure; 5xx is the server's problem.
		// Anything else in the 4xx range will fail identically on retry.
		switch {
		case apiErr.StatusCode == 0:
			return true
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return true
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") {
		return true
	}

	if strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") {
		return false
	}

	// Default: retryable
	return true
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// delayFor picks the wait before the next attempt: the server's retry-after
// hint when the failure was a rate limit, the exponential backoff otherwise.
func (p *RetryPolicy) delayFor(err error, attempt int) time.Duration {
	var rateErr *llm.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		return rateErr.RetryAfter
	}
	return p.NextDelay(attempt)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries with
// exponential backoff (or the server's retry-after hint on rate limits).
// Returns nil on success, the last error if all attempts fail, the first
// non-retryable error immediately, or the context error if ctx is cancelled
// while waiting.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if attempt < p.MaxAttempts {
			timer := time.NewTimer(p.delayFor(err, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}
