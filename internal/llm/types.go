// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"iter"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is a single entry in an ordered conversation.
// Messages are passed by value and treated as immutable once built.
type ChatMessage struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// System returns a system message.
func System(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// User returns a user message.
func User(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// Assistant returns an assistant message.
func Assistant(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// ToolResult returns a tool message answering the tool call with the given id.
func ToolResult(toolCallID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// =============================================================================
// REQUEST
// =============================================================================

// ToolDefinition describes a function the model may call.
// Parameters holds a JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// RequestOptions is a decoded chat request. Nil pointers leave the
// vendor default in place.
type RequestOptions struct {
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
}

// SystemPrompt returns the content of the first system message, if any.
func (o RequestOptions) SystemPrompt() string {
	for _, m := range o.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// Text returns every message content joined by newlines, in order.
// Used for token estimation, not for classification.
func (o RequestOptions) Text() string {
	n := 0
	for _, m := range o.Messages {
		n += len(m.Content) + 1
	}
	buf := make([]byte, 0, n)
	for i, m := range o.Messages {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, m.Content...)
	}
	return string(buf)
}

// =============================================================================
// RESPONSE
// =============================================================================

// ToolCall is a function invocation requested by the model. Arguments is
// the raw JSON argument text; during streaming it is the cumulative text
// received so far.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FinishReason records why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage holds token counts for one call. Estimated is set when some counts
// were filled in locally because the vendor withheld them.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// Normalize recomputes TotalTokens from the parts.
func (u Usage) Normalize() Usage {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// Response is the result of a single non-streaming chat call.
type Response struct {
	ID            string       `json:"id,omitempty"`
	Content       string       `json:"content"`
	Model         string       `json:"model"`
	Provider      string       `json:"provider"`
	ToolCalls     []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason  FinishReason `json:"finish_reason"`
	Usage         Usage        `json:"usage"`
	LatencyMs     int64        `json:"latency_ms"`
	EstimatedCost float64      `json:"estimated_cost"`
}

// =============================================================================
// STREAMING
// =============================================================================

// EventType tags a StreamEvent.
type EventType string

const (
	EventContent  EventType = "content"
	EventToolCall EventType = "tool_call"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// StreamEvent is one normalized streaming event. Which fields are set
// depends on Type:
//
//	content    Content holds the text delta
//	tool_call  ToolCall holds the cumulative call for its block
//	done       Usage may be set; Provider, Model and EstimatedCost describe the call
//	error      Err is set
type StreamEvent struct {
	Type          EventType `json:"type"`
	Content       string    `json:"content,omitempty"`
	ToolCall      *ToolCall `json:"tool_call,omitempty"`
	Usage         *Usage    `json:"usage,omitempty"`
	Err           *Error    `json:"error,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	EstimatedCost float64   `json:"estimated_cost,omitempty"`
}

// Terminal reports whether the event ends a stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Stream is a lazy, finite, single-use sequence of events that ends with
// exactly one done or error event. Breaking out of a range loop releases
// the underlying connection.
type Stream = iter.Seq[StreamEvent]
