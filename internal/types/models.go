// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Phase is a session's position in the research lifecycle. The phase plus
// the event log fully determine how the next user turn is handled.
type Phase string

const (
	// PhaseChat: interactive chat, watching replies for the readiness marker.
	PhaseChat Phase = "chat"
	// PhaseAwaitingAnswer: a research job asked a clarifying question; the
	// next user turn re-enters research directly.
	PhaseAwaitingAnswer Phase = "awaiting_answer"
	// PhaseResearching: a background job is running.
	PhaseResearching Phase = "researching"
	// PhaseReported: a report was produced; the session is done.
	PhaseReported Phase = "reported"
)

type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	RunID     RunID           `json:"run_id,omitempty"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

type SessionIndex struct {
	SessionID    SessionID  `json:"session_id"`
	SessionKey   SessionKey `json:"session_key"`
	Phase        Phase      `json:"phase"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastRunID    RunID      `json:"last_run_id,omitempty"`
	LastEventSeq int64      `json:"last_event_seq"`

	// TemplateID selects the research template for this session, when set.
	TemplateID TemplateID `json:"template_id,omitempty"`
	// JobID is the remote id of the most recent background research job.
	JobID string `json:"job_id,omitempty"`
	// VectorStoreIDs are the remote stores attached to this session's
	// research jobs, newest last. At most two are retained.
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
	// ReportID points at the report artifact once the session has one.
	ReportID ArtifactID `json:"report_id,omitempty"`
}

type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	SessionID SessionID  `json:"session_id"`
	RunID     RunID      `json:"run_id"`
	Kind      string     `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	MimeType  string     `json:"mime_type,omitempty"`
}

type InboundEvent struct {
	Source     string          `json:"source"`
	SessionKey SessionKey      `json:"session_key"`
	UserID     string          `json:"user_id"`
	Text       string          `json:"text"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Template is a saved research prompt configuration. Identity is the ID;
// writes are full overwrites and an existing ID is an upsert.
type Template struct {
	ID           TemplateID `json:"id"`
	Name         string     `json:"name"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Prompt       string     `json:"prompt"`
	Model        string     `json:"model"`
	Temperature  float32    `json:"temperature"`
	TopP         float32    `json:"top_p"`
}

// ResearchTask is a scheduled research job. Prompt is used directly unless
// TemplateID is set, in which case the template supplies the prompt and
// model parameters.
type ResearchTask struct {
	Name       string     `json:"name"`
	Prompt     string     `json:"prompt,omitempty"`
	TemplateID TemplateID `json:"template_id,omitempty"`
	Schedule   string     `json:"schedule"`
	SessionKey SessionKey `json:"session_key"`
	Enabled    bool       `json:"enabled"`
}

// SourceFile is one staged context file waiting to be uploaded when the
// session's next research job starts.
type SourceFile struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	AddedAt time.Time `json:"added_at"`
}
