package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/deepscout/pkg/llm"
)

// WatchState names a stage in a research job's lifecycle.
type WatchState string

const (
	StateSubmitted WatchState = "submitted"
	StatePolling   WatchState = "polling"
	StateQuestion  WatchState = "question"
	StateReport    WatchState = "report"
	StateFailed    WatchState = "failed"
	StateTimedOut  WatchState = "timed_out"
)

// Outcome is the terminal result of a watched job: either a clarifying
// question or a finished report, with the text to deliver.
type Outcome struct {
	State WatchState
	Text  string
	JobID string
	// Polls counts successful status fetches. Rate-limit retries are not
	// polls.
	Polls int
}

// JobFetcher fetches the current payload for a research job. *openai.Client
// satisfies it.
type JobFetcher interface {
	GetResearch(ctx context.Context, jobID string) (*llm.JobPayload, error)
}

const (
	defaultPollInterval = 3 * time.Second
	defaultEmptyRetries = 3
	// Used when a rate-limit response carries no usable retry hint.
	fallbackRetryAfter = 5 * time.Second
)

// Watcher polls a research job until it reaches a terminal state.
type Watcher struct {
	client       JobFetcher
	log          *slog.Logger
	interval     time.Duration
	timeout      time.Duration
	emptyRetries int

	// sleep is swapped for a recording stub in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithInterval sets the polling cadence.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithTimeout caps how long a watch may run. Zero means no cap.
func WithTimeout(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.timeout = d
	}
}

// WithLogger sets the logger used for poll progress.
func WithLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWatcher creates a watcher with a 3s cadence and no timeout.
func NewWatcher(client JobFetcher, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		client:       client,
		log:          slog.Default(),
		interval:     defaultPollInterval,
		emptyRetries: defaultEmptyRetries,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Watch drives a submitted job to a terminal outcome. The submission payload
// is classified first, so jobs the service resolves synchronously never enter
// the poll loop. While polling, consecutive fetches are spaced by the cadence
// interval; a rate-limit response replaces the next cadence sleep with the
// server's retry-after hint instead of adding to it.
func (w *Watcher) Watch(ctx context.Context, submission *llm.JobPayload) (*Outcome, error) {
	jobID := ""
	if submission != nil {
		jobID = submission.ID
	}
	log := w.log.With("job_id", jobID)
	log.Info("research job submitted", "state", StateSubmitted)

	res := Classify(submission)
	switch res.Kind {
	case KindQuestion:
		log.Info("research job resolved on submission", "state", StateQuestion)
		return &Outcome{State: StateQuestion, Text: res.Text, JobID: jobID}, nil
	case KindReport:
		log.Info("research job resolved on submission", "state", StateReport)
		return &Outcome{State: StateReport, Text: res.Text, JobID: jobID}, nil
	case KindFailed:
		log.Warn("research job failed on submission", "state", StateFailed, "message", res.Text)
		return nil, &llm.JobFailedError{Message: res.Text}
	}

	if jobID == "" {
		return nil, errors.New("research job submission returned no id")
	}

	var deadline time.Time
	if w.timeout > 0 {
		deadline = time.Now().Add(w.timeout)
	}

	log.Debug("polling research job", "state", StatePolling, "interval", w.interval)

	polls := 0
	emptyPolls := 0
	wait := w.interval
	for {
		if err := w.sleep(ctx, wait); err != nil {
			return nil, err
		}
		wait = w.interval

		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Warn("research job timed out", "state", StateTimedOut, "polls", polls)
			return nil, fmt.Errorf("research job %s timed out after %s", jobID, w.timeout)
		}

		payload, err := w.client.GetResearch(ctx, jobID)
		if err != nil {
			var rateErr *llm.RateLimitError
			if errors.As(err, &rateErr) {
				wait = rateErr.RetryAfter
				if wait <= 0 {
					wait = fallbackRetryAfter
				}
				log.Debug("rate limited, backing off", "retry_after", wait)
				continue
			}
			var apiErr *llm.APIError
			if errors.As(err, &apiErr) && (apiErr.StatusCode == 0 || apiErr.StatusCode == http.StatusNotFound) {
				// Connection blips, and 404s from fetching a job the
				// backend has not propagated yet. Both resolve on a later
				// poll.
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Debug("transient poll error", "error", err)
				continue
			}
			log.Warn("research poll failed", "state", StateFailed, "error", err)
			return nil, err
		}

		polls++
		res := Classify(payload)
		switch res.Kind {
		case KindQuestion:
			log.Info("research job needs input", "state", StateQuestion, "polls", polls)
			return &Outcome{State: StateQuestion, Text: res.Text, JobID: jobID, Polls: polls}, nil
		case KindReport:
			log.Info("research job completed", "state", StateReport, "polls", polls, "chars", len(res.Text))
			return &Outcome{State: StateReport, Text: res.Text, JobID: jobID, Polls: polls}, nil
		case KindFailed:
			log.Warn("research job failed", "state", StateFailed, "polls", polls, "message", res.Text)
			return nil, &llm.JobFailedError{Message: res.Text}
		case KindEmpty:
			emptyPolls++
			if emptyPolls > w.emptyRetries {
				return nil, &llm.EmptyResultError{JobID: jobID}
			}
			log.Debug("completed job has no output yet", "empty_polls", emptyPolls)
		default:
			emptyPolls = 0
		}
	}
}
