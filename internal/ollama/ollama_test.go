// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(&ClientConfig{BaseURL: server.URL, Enabled: true}, nil)
}

func ndjson(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
		}
	}
}

func collect(s llm.Stream) []llm.StreamEvent {
	var out []llm.StreamEvent
	for ev := range s {
		out = append(out, ev)
	}
	return out
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(nil, nil)
	if c.IsAvailable() {
		t.Error("default client should be disabled")
	}
	if c.BaseURL() != "http://127.0.0.1:11434" {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
	if c.Name() != "ollama" {
		t.Errorf("Name = %q", c.Name())
	}

	c = NewClient(&ClientConfig{BaseURL: "http://gpu-box:11434/", Enabled: true}, nil)
	if c.BaseURL() != "http://gpu-box:11434" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", c.BaseURL())
	}
	if !c.IsAvailable() {
		t.Error("enabled client should be available")
	}
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestBuildRequest(t *testing.T) {
	limit := 64
	req := buildRequest(llm.RequestOptions{
		Messages:  []llm.ChatMessage{llm.System("terse"), llm.User("hi")},
		Tools:     []llm.ToolDefinition{{Name: "search"}},
		MaxTokens: &limit,
	}, "qwen2.5-coder:7b", true)

	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("Messages = %+v", req.Messages)
	}
	if req.Options == nil || req.Options.NumPredict != 64 {
		t.Errorf("Options = %+v, want num_predict 64", req.Options)
	}
	if len(req.Tools) != 1 || req.Tools[0].Type != "function" {
		t.Fatalf("Tools = %+v", req.Tools)
	}
	if string(req.Tools[0].Function.Parameters) != `{"type":"object","properties":{}}` {
		t.Errorf("Parameters = %s", req.Tools[0].Function.Parameters)
	}

	if buildRequest(llm.RequestOptions{}, "m", false).Options != nil {
		t.Error("Options should be omitted when no parameter is set")
	}
}

func TestDoneReason(t *testing.T) {
	tests := []struct {
		reason string
		tools  bool
		want   llm.FinishReason
	}{
		{"stop", false, llm.FinishStop},
		{"length", false, llm.FinishLength},
		{"stop", true, llm.FinishToolCalls},
		{"", false, llm.FinishStop},
	}
	for _, tc := range tests {
		if got := doneReason(tc.reason, tc.tools); got != tc.want {
			t.Errorf("doneReason(%q, %v) = %q, want %q", tc.reason, tc.tools, got, tc.want)
		}
	}
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestChat_Success(t *testing.T) {
	reg, err := models.New([]models.ModelConfig{{ID: "local", Provider: "ollama"}})
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Stream {
			t.Error("Chat should not stream")
		}
		w.Write([]byte(`{"model":"local","message":{"role":"assistant","content":"hello","tool_calls":[{"function":{"name":"search","arguments":{"q":"go"}}}]},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":5}`))
	}))
	defer server.Close()

	c := NewClient(&ClientConfig{BaseURL: server.URL, Enabled: true}, reg)
	resp, err := c.Chat(context.Background(), llm.RequestOptions{Messages: []llm.ChatMessage{llm.User("hi")}}, "local")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Content != "hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", resp.Usage.TotalTokens)
	}
	if resp.EstimatedCost != 0 {
		t.Errorf("EstimatedCost = %v, want 0 for a local model", resp.EstimatedCost)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_0" || resp.ToolCalls[0].Arguments != `{"q":"go"}` {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
}

func TestChat_Disabled(t *testing.T) {
	_, err := NewClient(nil, nil).Chat(context.Background(), llm.RequestOptions{}, "local")
	var le *llm.Error
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *llm.Error", err)
	}
	if le.Retryable {
		t.Error("disabled adapter error should not be retryable")
	}
}

func TestChat_ModelNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"missing\" not found, try pulling it first"}`))
	})

	_, err := c.Chat(context.Background(), llm.RequestOptions{}, "missing")
	var le *llm.Error
	if !errors.As(err, &le) || le.Kind != llm.KindModelNotFound {
		t.Fatalf("err = %v, want model_not_found", err)
	}
	if !strings.Contains(le.Message, "try pulling it first") {
		t.Errorf("Message = %q, want vendor message", le.Message)
	}
}

func TestChat_NotRunning(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(&ClientConfig{BaseURL: url, Enabled: true}, nil)
	_, err := c.Chat(context.Background(), llm.RequestOptions{}, "local")
	var le *llm.Error
	if !errors.As(err, &le) || le.Kind != llm.KindNetworkError {
		t.Fatalf("err = %v, want network_error", err)
	}
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("err should wrap ErrNotRunning")
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"proxy_rejects", http.StatusUnauthorized, false},
		{"server_error", http.StatusInternalServerError, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/tags" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"models":[]}`))
			})
			if got := c.ValidateAPIKey(context.Background()); got != tc.want {
				t.Errorf("ValidateAPIKey = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:7b","size":4683087332}]}`))
	})
	list, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "qwen2.5-coder:7b" {
		t.Errorf("ListModels = %+v", list)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestStreamChat(t *testing.T) {
	c := newTestClient(t, ndjson(
		`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
		``,
		`not json`,
		`{"message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"a","arguments":{}}},{"function":{"name":"b","arguments":{"x":1}}}]},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":9,"eval_count":4}`,
	))

	events := collect(c.StreamChat(context.Background(), llm.RequestOptions{}, "local"))

	var content strings.Builder
	var calls []llm.ToolCall
	for _, ev := range events {
		switch ev.Type {
		case llm.EventContent:
			content.WriteString(ev.Content)
		case llm.EventToolCall:
			calls = append(calls, *ev.ToolCall)
		}
	}
	if content.String() != "Hello" {
		t.Errorf("content = %q", content.String())
	}
	if len(calls) != 2 || calls[0].ID != "call_0" || calls[0].Arguments != "{}" || calls[1].Arguments != `{"x":1}` {
		t.Errorf("calls = %+v", calls)
	}

	last := events[len(events)-1]
	if last.Type != llm.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 13 {
		t.Errorf("Usage = %+v, want 13 total", last.Usage)
	}
}

func TestStreamChat_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    llm.Kind
	}{
		{
			name:    "truncated",
			handler: ndjson(`{"message":{"content":"par"},"done":false}`),
			kind:    llm.KindNetworkError,
		},
		{
			name:    "done_without_newline",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"message":{"content":"x"}`)) },
			kind:    llm.KindNetworkError,
		},
		{
			name:    "error_line",
			handler: ndjson(`{"message":{"content":"par"},"done":false}`, `{"error":"llama runner process has terminated"}`),
			kind:    llm.KindProviderError,
		},
		{
			name: "http_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"model not found"}`))
			},
			kind: llm.KindModelNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			events := collect(c.StreamChat(context.Background(), llm.RequestOptions{}, "local"))
			last := events[len(events)-1]
			if last.Type != llm.EventError {
				t.Fatalf("last event = %s, want error", last.Type)
			}
			if last.Err.Kind != tc.kind {
				t.Errorf("Kind = %s, want %s", last.Err.Kind, tc.kind)
			}
		})
	}
}

func TestStreamChat_FinalLineWithoutNewline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"ok"},"done":true,"eval_count":1}`))
	})
	events := collect(c.StreamChat(context.Background(), llm.RequestOptions{}, "local"))
	if last := events[len(events)-1]; last.Type != llm.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
}
