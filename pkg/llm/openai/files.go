package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/user/deepscout/pkg/llm"
)

// uploadResponse is the file upload response body.
type uploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// vectorStore is the vector store status body. The file_counts fields drive
// the readiness wait.
type vectorStore struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	FileCounts fileCounts `json:"file_counts"`
}

type fileCounts struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// CreateVectorStore creates an empty remote vector store and returns its id.
func (c *Client) CreateVectorStore(ctx context.Context) (string, error) {
	var vs vectorStore
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", struct{}{}, &vs); err != nil {
		return "", err
	}
	if vs.ID == "" {
		return "", fmt.Errorf("no id in vector store response")
	}
	return vs.ID, nil
}

// UploadFile uploads one file as multipart form data and returns its id.
func (c *Client) UploadFile(ctx context.Context, name string, contents []byte) (string, error) {
	if c.config.APIKey == "" {
		return "", llm.ErrNoAPIKey
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("writing purpose field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(contents); err != nil {
		return "", fmt.Errorf("writing file contents: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &llm.APIError{Message: fmt.Sprintf("sending request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &llm.APIError{Message: fmt.Sprintf("reading response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apiError(resp.StatusCode, respBody)
	}

	var uploaded uploadResponse
	if err := json.Unmarshal(respBody, &uploaded); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if uploaded.ID == "" {
		return "", fmt.Errorf("no id in upload response")
	}
	return uploaded.ID, nil
}

// AttachFile attaches one uploaded file to a vector store. The remote API
// rejects batched attachment, so files go one per request.
func (c *Client) AttachFile(ctx context.Context, storeID, fileID string) error {
	body := map[string]string{"file_id": fileID}
	return c.doJSON(ctx, http.MethodPost, "/vector_stores/"+storeID+"/files", body, nil)
}

func (c *Client) getVectorStore(ctx context.Context, storeID string) (*vectorStore, error) {
	var vs vectorStore
	if err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+storeID, nil, &vs); err != nil {
		return nil, err
	}
	return &vs, nil
}

// WaitForVectorStore polls the store until indexing settles: no files in
// progress and at least one completed. Best effort only — when the ceiling
// passes first, a warning is logged and the caller proceeds with whatever
// the store has finished indexing server-side.
func (c *Client) WaitForVectorStore(ctx context.Context, storeID string) error {
	deadline := time.Now().Add(c.storeWaitCeiling)
	for {
		wait := c.storeWaitInterval

		vs, err := c.getVectorStore(ctx, storeID)
		switch {
		case err != nil:
			var rateLimited *llm.RateLimitError
			if errors.As(err, &rateLimited) {
				wait = rateLimited.RetryAfter
			} else if errors.Is(err, llm.ErrNoAPIKey) {
				return err
			} else {
				slog.Debug("vector store status fetch failed",
					"store_id", storeID,
					"error", err)
			}
		case vs.FileCounts.InProgress == 0 && vs.FileCounts.Completed >= 1:
			return nil
		}

		if time.Now().After(deadline) {
			slog.Warn("vector store still indexing past wait ceiling, proceeding",
				"store_id", storeID)
			return nil
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
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
