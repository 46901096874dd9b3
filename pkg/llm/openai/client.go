package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/user/deepscout/pkg/llm"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements the llm.Provider and llm.Researcher interfaces for
// OpenAI-compatible APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client

	// Vector-store readiness polling knobs, shortened in tests.
	storeWaitInterval time.Duration
	storeWaitCeiling  time.Duration
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		storeWaitInterval: 3 * time.Second,
		storeWaitCeiling:  30 * time.Second,
	}
}

func (c *Client) baseURL() string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	return defaultBaseURL
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

// choice represents a single completion choice.
type choice struct {
	Message responseMessage `json:"message"`
}

// responseMessage is the OpenAI message format in responses.
type responseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseUsage is the OpenAI token usage format.
type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	reqBody := chatRequest{
		Model:    c.config.ChatModel,
		Messages: messages,
	}
	if c.config.MaxTokens > 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}
	if c.config.TopP != 0 {
		topP := c.config.TopP
		reqBody.TopP = &topP
	}

	var chatResp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat/completions", reqBody, &chatResp); err != nil {
		return nil, err
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	return &llm.Response{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}, nil
}

// doJSON issues one JSON request and decodes the response into out when out
// is non-nil. Non-2xx responses become typed errors; transport failures are
// reported as an APIError with status code 0.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	if c.config.APIKey == "" {
		return llm.ErrNoAPIKey
	}

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &llm.APIError{Message: fmt.Sprintf("sending request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &llm.APIError{Message: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// errorEnvelope is the error body shape shared by all endpoints.
type errorEnvelope struct {
	Error *struct {
		Message    string  `json:"message"`
		Code       string  `json:"code"`
		RetryAfter float64 `json:"retry_after"`
	} `json:"error"`
	Message string `json:"message"`
}

// apiError turns a non-2xx response into a typed error, preferring the
// remote-supplied message when one is present.
func apiError(status int, body []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)

	msg := env.Message
	var retryAfter float64
	if env.Error != nil {
		if env.Error.Message != "" {
			msg = env.Error.Message
		}
		retryAfter = env.Error.RetryAfter
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	if status == http.StatusTooManyRequests {
		return &llm.RateLimitError{
			RetryAfter: retryAfterDuration(retryAfter, msg),
			Message:    msg,
		}
	}
	return &llm.APIError{StatusCode: status, Message: msg}
}

var retryAfterPattern = regexp.MustCompile(`try again in ([0-9]*\.?[0-9]+)s`)

const defaultRetryAfter = 5 * time.Second

// retryAfterDuration derives a wait from an explicit retry_after field, the
// "try again in Ns" phrasing the service puts in rate-limit messages, or the
// default when neither is present.
func retryAfterDuration(seconds float64, message string) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if m := retryAfterPattern.FindStringSubmatch(message); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultRetryAfter
}
