package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/deepscout/pkg/llm"
)

func TestSubmitResearchToolList(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("expected path '/responses', got %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"id":"resp_1","status":"queued"}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "key", ResearchModel: "o4-mini-deep-research"})

	payload, err := client.SubmitResearch(context.Background(), llm.ResearchRequest{
		Prompt: "research the topic",
	})
	if err != nil {
		t.Fatal(err)
	}
	if payload.ID != "resp_1" {
		t.Errorf("expected job id 'resp_1', got %q", payload.ID)
	}

	if got["model"] != "o4-mini-deep-research" {
		t.Errorf("expected configured research model, got %v", got["model"])
	}
	if got["background"] != true {
		t.Error("expected background submission")
	}
	tools, ok := got["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected exactly the web search tool, got %v", got["tools"])
	}
	tool := tools[0].(map[string]any)
	if tool["type"] != "web_search_preview" {
		t.Errorf("expected web_search_preview tool, got %v", tool["type"])
	}
	if input, _ := got["input"].(string); input != "research the topic" {
		t.Errorf("prompt should be unchanged without vector stores, got %q", input)
	}
}

func TestSubmitResearchWithVectorStores(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"id":"resp_2","status":"queued"}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "key", ResearchModel: "o4-mini-deep-research"})

	_, err := client.SubmitResearch(context.Background(), llm.ResearchRequest{
		Prompt:         "research the topic",
		VectorStoreIDs: []string{"vs_1", "vs_2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	tools, ok := got["tools"].([]any)
	if !ok || len(tools) != 2 {
		t.Fatalf("expected web search plus file search, got %v", got["tools"])
	}
	fileSearch := tools[1].(map[string]any)
	if fileSearch["type"] != "file_search" {
		t.Errorf("expected file_search tool, got %v", fileSearch["type"])
	}
	ids, _ := fileSearch["vector_store_ids"].([]any)
	if len(ids) != 2 || ids[0] != "vs_1" {
		t.Errorf("expected both store ids, got %v", fileSearch["vector_store_ids"])
	}

	input, _ := got["input"].(string)
	if !strings.Contains(input, fileSearchInstruction) {
		t.Error("expected file-search instruction appended to the prompt")
	}
	if !strings.HasPrefix(input, "research the topic") {
		t.Errorf("prompt should lead the input, got %q", input)
	}
}

func TestSubmitResearchModelOverride(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"id":"resp_3","status":"queued"}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "key", ResearchModel: "o4-mini-deep-research"})

	_, err := client.SubmitResearch(context.Background(), llm.ResearchRequest{
		Prompt:      "go deep",
		Model:       "o3-deep-research",
		Temperature: 0.7,
		TopP:        0.9,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got["model"] != "o3-deep-research" {
		t.Errorf("expected request model to win, got %v", got["model"])
	}
	if temp, _ := got["temperature"].(float64); temp < 0.69 || temp > 0.71 {
		t.Errorf("expected temperature 0.7, got %v", got["temperature"])
	}
	if topP, _ := got["top_p"].(float64); topP < 0.89 || topP > 0.91 {
		t.Errorf("expected top_p 0.9, got %v", got["top_p"])
	}
}

func TestSubmitResearchSynchronousResolution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"resp_4","status":"completed","output_text":"already done"}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "key", ResearchModel: "o4-mini-deep-research"})

	payload, err := client.SubmitResearch(context.Background(), llm.ResearchRequest{Prompt: "quick one"})
	if err != nil {
		t.Fatal(err)
	}
	if payload.Status != "completed" || payload.OutputText != "already done" {
		t.Errorf("expected terminal payload, got %+v", payload)
	}
}

func TestGetResearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/responses/resp_9" {
			t.Errorf("expected path '/responses/resp_9', got %q", r.URL.Path)
		}
		w.Write([]byte(`{"id":"resp_9","status":"in_progress"}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "key"})

	payload, err := client.GetResearch(context.Background(), "resp_9")
	if err != nil {
		t.Fatal(err)
	}
	if payload.Status != "in_progress" {
		t.Errorf("expected in_progress, got %q", payload.Status)
	}
}

func TestGetResearchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"response not found"}}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "key"})

	_, err := client.GetResearch(context.Background(), "resp_missing")
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}
