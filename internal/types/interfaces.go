// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
)

type SessionStore interface {
	ResolveOrCreate(ctx context.Context, key SessionKey) (SessionID, error)
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, session *SessionIndex) error
	// Archive retires the session under key so the next ResolveOrCreate with
	// the same key starts fresh. Archiving a key with no session is a no-op.
	Archive(ctx context.Context, key SessionKey) error
}

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, sessionID SessionID, runID RunID, kind string, data any) (ArtifactID, error)
	Get(ctx context.Context, id ArtifactID) (json.RawMessage, error)
	GetMeta(ctx context.Context, id ArtifactID) (*ArtifactMeta, error)
	Excerpt(ctx context.Context, id ArtifactID, maxTokens int) (string, error)
}

// TemplateStore persists research templates keyed by id. Put is a full
// overwrite; an existing id is an upsert.
type TemplateStore interface {
	Put(ctx context.Context, tpl *Template) error
	Get(ctx context.Context, id TemplateID) (*Template, error)
	List(ctx context.Context) ([]*Template, error)
	Delete(ctx context.Context, id TemplateID) error
}

// SourceStore stages context documents per session until the next research
// job uploads them.
type SourceStore interface {
	Add(ctx context.Context, sessionID SessionID, name string, contents []byte) (*SourceFile, error)
	List(ctx context.Context, sessionID SessionID) ([]*SourceFile, error)
	Read(ctx context.Context, sessionID SessionID, name string) ([]byte, error)
	Remove(ctx context.Context, sessionID SessionID, name string) error
	// Clear drops every staged document for the session. Called once a
	// research job has consumed them.
	Clear(ctx context.Context, sessionID SessionID) error
}
