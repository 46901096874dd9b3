package llm

import "context"

// Provider defines the interface for synchronous chat against an LLM backend.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Researcher defines the asynchronous research side of a backend: background
// jobs plus the file and vector-store plumbing those jobs search over.
type Researcher interface {
	// SubmitResearch starts a background research job. The returned payload
	// is the raw submission response; it may already be terminal if the
	// service resolved the job synchronously.
	SubmitResearch(ctx context.Context, req ResearchRequest) (*JobPayload, error)

	// GetResearch fetches the current payload for a previously submitted job.
	GetResearch(ctx context.Context, jobID string) (*JobPayload, error)

	// CreateVectorStore creates an empty remote vector store and returns its id.
	CreateVectorStore(ctx context.Context) (string, error)

	// UploadFile uploads a file for later attachment and returns its id.
	UploadFile(ctx context.Context, name string, contents []byte) (string, error)

	// AttachFile attaches one uploaded file to a vector store. The remote API
	// rejects batched attachment, so callers attach files one at a time.
	AttachFile(ctx context.Context, storeID, fileID string) error

	// WaitForVectorStore blocks until the store reports no in-flight files and
	// at least one completed file, or until the wait ceiling passes. Passing
	// the ceiling is not an error; indexing continues server-side.
	WaitForVectorStore(ctx context.Context, storeID string) error
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL       string
	APIKey        string
	ChatModel     string
	ResearchModel string
	MaxTokens     int
	Temperature   float32
	TopP          float32
}
