// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/rigrun-router/internal/llm"
)

var errTruncated = fmt.Errorf("stream ended before done chunk: %w", io.ErrUnexpectedEOF)

// StreamChat starts a streaming /api/chat request. The request is sent
// when the returned stream is first iterated.
func (c *Client) StreamChat(ctx context.Context, opts llm.RequestOptions, model string) llm.Stream {
	info := llm.StreamInfo{
		Provider: providerName,
		Model:    model,
		Cost: func(u llm.Usage) float64 {
			return c.registry.CostOrZero(model, u.PromptTokens, u.CompletionTokens)
		},
	}
	return llm.NewStream(info, func(yield func(llm.StreamEvent) bool) (*llm.Usage, error) {
		if !c.IsAvailable() {
			return nil, c.disabled(model)
		}
		if err := llm.Throttle(ctx, c.limiter); err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/api/chat", buildRequest(opts, model, true))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return processStream(resp.Body, yield)
	})
}

// processStream reads newline-delimited JSON chunks. Ollama sends each tool
// call whole, so every call is emitted once with complete arguments. The
// chunk with done set carries the token counts and ends the stream.
func processStream(body io.Reader, yield func(llm.StreamEvent) bool) (*llm.Usage, error) {
	reader := bufio.NewReader(body)
	calls := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF && len(line) == 0 {
			return nil, errTruncated
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var chunk chatResponse
			if jerr := json.Unmarshal(line, &chunk); jerr == nil {
				if chunk.Error != "" {
					return nil, &llm.StatusError{Body: chunk.Error}
				}
				if chunk.Message.Content != "" {
					if !yield(llm.StreamEvent{Type: llm.EventContent, Content: chunk.Message.Content}) {
						return nil, nil
					}
				}
				for _, tc := range chunk.Message.ToolCalls {
					call := convertToolCall(tc, calls)
					calls++
					if !yield(llm.StreamEvent{Type: llm.EventToolCall, ToolCall: &call}) {
						return nil, nil
					}
				}
				if chunk.Done {
					return &llm.Usage{
						PromptTokens:     chunk.PromptEvalCount,
						CompletionTokens: chunk.EvalCount,
					}, nil
				}
			}
		}

		if err == io.EOF {
			return nil, errTruncated
		}
	}
}
