// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/jeranaias/rigrun-router/internal/llm"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *options  `json:"options,omitempty"`
	Tools    []tool    `json:"tools,omitempty"`
}

type tool struct {
	Type     string     `json:"type"`
	Function toolSchema `json:"function"`
}

type toolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// options holds the inference parameters the router forwards.
type options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"` // max tokens to generate
	Stop        []string `json:"stop,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// chatResponse is a full /api/chat response, and also one NDJSON line of a
// streamed one.
type chatResponse struct {
	Model           string  `json:"model"`
	Message         message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"` // tokens in prompt
	EvalCount       int     `json:"eval_count,omitempty"`        // tokens generated
	Error           string  `json:"error,omitempty"`
}

// ModelInfo describes a model pulled into the local server.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

type listModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// =============================================================================
// TRANSLATION
// =============================================================================

func buildRequest(opts llm.RequestOptions, model string, stream bool) chatRequest {
	req := chatRequest{Model: model, Stream: stream}

	for _, m := range opts.Messages {
		req.Messages = append(req.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	if opts.Temperature != nil || opts.TopP != nil || opts.MaxTokens != nil || len(opts.Stop) > 0 {
		o := &options{Temperature: opts.Temperature, TopP: opts.TopP, Stop: opts.Stop}
		if opts.MaxTokens != nil {
			o.NumPredict = *opts.MaxTokens
		}
		req.Options = o
	}

	for _, t := range opts.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		req.Tools = append(req.Tools, tool{
			Type:     "function",
			Function: toolSchema{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return req
}

// convertToolCall gives an Ollama tool call, which carries no id, the id
// call_<n> where n counts calls within one response.
func convertToolCall(tc toolCall, n int) llm.ToolCall {
	args := "{}"
	if len(tc.Function.Arguments) > 0 {
		if data, err := json.Marshal(tc.Function.Arguments); err == nil {
			args = string(data)
		}
	}
	return llm.ToolCall{ID: "call_" + strconv.Itoa(n), Name: tc.Function.Name, Arguments: args}
}

func doneReason(reason string, hasTools bool) llm.FinishReason {
	switch {
	case reason == "length":
		return llm.FinishLength
	case hasTools:
		return llm.FinishToolCalls
	default:
		return llm.FinishStop
	}
}
