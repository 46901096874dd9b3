// Package gateway queues inbound conversation turns into per-session runs.
// Each session gets a FIFO lane so its turns never interleave, while a global
// semaphore bounds how many runs (including long research watches) execute at
// once across all sessions.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/deepscout/internal/types"
)

// Gateway turns inbound events into runs. It resolves (or creates) the
// session for an event, wraps the event in a Run, and enqueues the run for
// processing by whatever processor the queue was given — in this daemon, the
// research orchestrator.
type Gateway struct {
	sessions types.SessionStore
	Queue    *Queue
	retry    *RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway wired to the session store with the given limit on
// simultaneously processed runs.
func New(sessions types.SessionStore, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		sessions: sessions,
		Queue:    NewQueue(concurrency),
		retry:    DefaultRetryPolicy(),
	}
}

// Retry exposes the gateway's retry policy so the run processor can apply the
// same backoff rules to its own remote calls.
func (g *Gateway) Retry() *RetryPolicy {
	return g.retry
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnMessage sets the callback receiving each message the run produces.
func WithOnMessage(fn func(kind, text string)) RunOption {
	return func(r *Run) { r.OnMessage = fn }
}

// WithOnDone sets a callback invoked once when the run finishes processing.
func WithOnDone(fn func(err error)) RunOption {
	return func(r *Run) { r.OnDone = fn }
}

// HandleInbound resolves or creates a session for the event, wraps it in a
// Run, and enqueues it. The returned run id identifies the turn in the event
// log, so callers that answer before processing finishes (the HTTP API) can
// hand it back to their clients.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) (types.RunID, error) {
	sessionID, err := g.sessions.ResolveOrCreate(ctx, event.SessionKey)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	run := NewRun(sessionID, event)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return "", err
	}
	return run.ID, nil
}
