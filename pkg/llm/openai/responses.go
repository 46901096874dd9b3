package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/user/deepscout/pkg/llm"
)

// fileSearchInstruction is appended to the research brief whenever uploaded
// files are attached, steering the model toward them.
const fileSearchInstruction = "Use the file_search tool to consult the attached documents before answering."

// responsesRequest is the background job submission body.
type responsesRequest struct {
	Model           string         `json:"model"`
	Input           string         `json:"input"`
	Instructions    string         `json:"instructions,omitempty"`
	Background      bool           `json:"background"`
	Tools           []responseTool `json:"tools,omitempty"`
	Temperature     *float32       `json:"temperature,omitempty"`
	TopP            *float32       `json:"top_p,omitempty"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
}

type responseTool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

// SubmitResearch starts a background research job. Web search is always in
// the tool list; file search joins it only when vector stores are supplied,
// along with an explicit instruction appended to the prompt.
func (c *Client) SubmitResearch(ctx context.Context, req llm.ResearchRequest) (*llm.JobPayload, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("no research prompt")
	}

	model := req.Model
	if model == "" {
		model = c.config.ResearchModel
	}

	input := req.Prompt
	tools := []responseTool{{Type: "web_search_preview"}}
	if len(req.VectorStoreIDs) > 0 {
		tools = append(tools, responseTool{Type: "file_search", VectorStoreIDs: req.VectorStoreIDs})
		input += "\n\n" + fileSearchInstruction
	}

	body := responsesRequest{
		Model:        model,
		Input:        input,
		Instructions: req.Instructions,
		Background:   true,
		Tools:        tools,
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		body.Temperature = &temp
	}
	if req.TopP > 0 {
		topP := req.TopP
		body.TopP = &topP
	}
	if c.config.MaxTokens > 0 {
		body.MaxOutputTokens = c.config.MaxTokens
	}

	var payload llm.JobPayload
	if err := c.doJSON(ctx, http.MethodPost, "/responses", body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetResearch fetches the current payload for a background job.
func (c *Client) GetResearch(ctx context.Context, jobID string) (*llm.JobPayload, error) {
	if jobID == "" {
		return nil, fmt.Errorf("no job id")
	}

	var payload llm.JobPayload
	if err := c.doJSON(ctx, http.MethodGet, "/responses/"+jobID, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
