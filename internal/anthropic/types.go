// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/jeranaias/rigrun-router/internal/llm"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type messagesRequest struct {
	Model         string     `json:"model"`
	System        string     `json:"system,omitempty"`
	Messages      []message  `json:"messages"`
	Tools         []toolSpec `json:"tools,omitempty"`
	MaxTokens     int        `json:"max_tokens"`
	Temperature   *float64   `json:"temperature,omitempty"`
	TopP          *float64   `json:"top_p,omitempty"`
	StopSequences []string   `json:"stop_sequences,omitempty"`
	Stream        bool       `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock covers the block types this adapter sends and reads.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type toolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      wireUsage      `json:"usage"`
}

// streamEvent is the data payload of one SSE event.
type streamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message,omitempty"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *wireUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// =============================================================================
// TRANSLATION
// =============================================================================

// buildRequest translates normalized options. System messages are lifted
// into the system field, tool results become tool_result blocks on a user
// turn, and consecutive turns with the same role are merged.
func buildRequest(opts llm.RequestOptions, model string, maxTokens int, stream bool) messagesRequest {
	req := messagesRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.Stop,
		Stream:        stream,
	}

	var system []string
	for _, m := range opts.Messages {
		var role string
		var block contentBlock
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
			continue
		case llm.RoleTool:
			role = "user"
			block = contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
		case llm.RoleAssistant:
			role = "assistant"
			block = contentBlock{Type: "text", Text: m.Content}
		default:
			role = "user"
			block = contentBlock{Type: "text", Text: m.Content}
		}

		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == role {
			req.Messages[n-1].Content = append(req.Messages[n-1].Content, block)
			continue
		}
		req.Messages = append(req.Messages, message{Role: role, Content: []contentBlock{block}})
	}
	req.System = strings.Join(system, "\n\n")

	for _, t := range opts.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		req.Tools = append(req.Tools, toolSpec{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return req
}

// stopReason maps a Messages API stop_reason.
func stopReason(s string) llm.FinishReason {
	switch s {
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCalls
	case "refusal":
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}
