package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAPIKey short-circuits every client call before any network traffic.
var ErrNoAPIKey = errors.New("no API key configured")

// APIError is a non-2xx response from the remote service, carrying the
// remote-supplied message when one was present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// RateLimitError is a 429 carrying how long to wait before retrying. Polling
// and upload loops recover from it internally; it is never shown to a user.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// JobFailedError reports a background job the remote service marked failed.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return "research job failed"
	}
	return "research job failed: " + e.Message
}

// EmptyResultError reports a job that completed without any extractable text.
// Distinct from JobFailedError so callers can offer a retry instead of a
// blank report.
type EmptyResultError struct {
	JobID string
}

func (e *EmptyResultError) Error() string {
	if e.JobID == "" {
		return "research job completed with no output"
	}
	return fmt.Sprintf("research job %s completed with no output", e.JobID)
}
