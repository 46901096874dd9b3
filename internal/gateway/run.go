package gateway

import (
	"context"
	"time"

	"github.com/user/deepscout/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Message kinds passed to a run's OnMessage callback. Surfaces use them to
// format output (the REPL colors questions, Telegram flags errors); the
// delivery registry forwards them unchanged.
const (
	MessageAssistant = "assistant"
	MessageQuestion  = "question"
	MessageReport    = "report"
	MessageNotice    = "notice"
	MessageError     = "error"
)

// Run tracks a single execution of an inbound event against a session. A run
// spans the whole turn: a chat-only turn delivers one assistant message, a
// turn that starts research delivers the acknowledgment and later the report
// or clarifying question, so OnMessage may fire more than once per run.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Event     *types.InboundEvent
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
	Ctx       context.Context

	// OnMessage receives each message the run produces, tagged with a
	// Message* kind.
	OnMessage func(kind, text string)
	// OnDone is called exactly once when processing finishes, with the
	// processor's error (nil on success).
	OnDone func(err error)
}

// NewRun creates a Run in the Queued state for the given session and event.
func NewRun(sessionID types.SessionID, event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: sessionID,
		Event:     event,
		Status:    RunStatusQueued,
		Attempts:  0,
		CreatedAt: time.Now(),
	}
}

// Deliver invokes OnMessage when one is set.
func (r *Run) Deliver(kind, text string) {
	if r.OnMessage != nil {
		r.OnMessage(kind, text)
	}
}
