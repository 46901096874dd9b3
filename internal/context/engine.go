// internal/context/engine.go
package context

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/deepscout/internal/types"
	"github.com/user/deepscout/pkg/llm"
)

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4o-mini").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// countTokens returns the token count for a string.
func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// PromptData is the data passed to the system prompt template.
type PromptData struct {
	Time      string
	SessionID string
	Phase     string
	Template  string
	Sources   []string
}

// RenderPrompt renders a system prompt template. An empty template falls
// back to DefaultPrompt.
func RenderPrompt(tmplText string, data PromptData) (string, error) {
	if tmplText == "" {
		tmplText = DefaultPrompt
	}
	tmpl, err := template.New("prompt").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return buf.String(), nil
}

// BuildChatMessages assembles a token-budgeted chat prompt from session
// history. promptTmpl overrides the built-in system prompt when non-empty;
// templateName and sources feed the prompt's session context block.
func (e *Engine) BuildChatMessages(
	_ context.Context,
	session *types.SessionIndex,
	events []*types.Event,
	promptTmpl string,
	templateName string,
	sources []string,
) ([]llm.Message, error) {
	inputBudget := e.maxTokens - e.reserve

	// 1. System prompt
	sysPrompt, err := RenderPrompt(promptTmpl, PromptData{
		Time:      time.Now().Format(time.RFC3339),
		SessionID: string(session.SessionID),
		Phase:     string(session.Phase),
		Template:  templateName,
		Sources:   sources,
	})
	if err != nil {
		return nil, err
	}
	sysTokens := e.countTokens(sysPrompt)
	remaining := inputBudget - sysTokens

	// 70% for events, the rest is safety margin
	eventBudget := int(float64(remaining) * 0.7)

	// 2. Convert events to messages, respecting budget. Walk newest-first
	// so the latest turns survive when the budget trims.
	var eventMessages []llm.Message
	usedTokens := 0

	for i := len(events) - 1; i >= 0; i-- {
		msg, ok := eventToMessage(events[i])
		if !ok {
			continue
		}

		msgTokens := e.countTokens(msg.Content)
		if usedTokens+msgTokens > eventBudget {
			break
		}

		eventMessages = append([]llm.Message{msg}, eventMessages...)
		usedTokens += msgTokens
	}

	// 3. Assemble: system + events (chronological order)
	messages := make([]llm.Message, 0, 1+len(eventMessages))
	messages = append(messages, llm.Message{Role: "system", Content: sysPrompt})
	messages = append(messages, eventMessages...)

	return messages, nil
}

// FlattenConversation renders the session history as a role-labelled
// transcript for a research prompt: an optional System: block first, then
// User:/Assistant: turns with the oldest trimmed to the token budget. The
// system block is never trimmed.
func (e *Engine) FlattenConversation(system string, events []*types.Event) string {
	budget := e.maxTokens - e.reserve

	var head []string
	if system != "" {
		line := "System: " + system
		budget -= e.countTokens(line)
		head = append(head, line)
	}

	var lines []string
	usedTokens := 0

	for i := len(events) - 1; i >= 0; i-- {
		msg, ok := eventToMessage(events[i])
		if !ok {
			continue
		}

		var line string
		switch msg.Role {
		case "user":
			line = "User: " + msg.Content
		case "assistant":
			line = "Assistant: " + msg.Content
		default:
			continue
		}

		lineTokens := e.countTokens(line)
		if usedTokens+lineTokens > budget {
			break
		}

		lines = append([]string{line}, lines...)
		usedTokens += lineTokens
	}

	return strings.Join(append(head, lines...), "\n\n")
}

type eventPayload struct {
	Text string `json:"text"`
}

// eventToMessage converts a conversational event to a chat message. Events
// that are not part of the dialogue (research lifecycle, errors) report ok
// as false.
func eventToMessage(event *types.Event) (llm.Message, bool) {
	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return llm.Message{}, false
	}

	switch event.Type {
	case "user_message":
		return llm.Message{Role: "user", Content: payload.Text}, true

	case "assistant_message":
		return llm.Message{Role: "assistant", Content: payload.Text}, true

	default:
		return llm.Message{}, false
	}
}
