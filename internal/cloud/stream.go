// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/rigrun-router/internal/llm"
)

// errTruncated reports a stream that ended without [DONE] or a finish reason.
var errTruncated = fmt.Errorf("stream ended before completion: %w", io.ErrUnexpectedEOF)

// StreamChat starts a streaming completion. The request is sent when the
// returned stream is first iterated.
func (c *Client) StreamChat(ctx context.Context, opts llm.RequestOptions, model string) llm.Stream {
	info := llm.StreamInfo{
		Provider: c.cfg.Provider,
		Model:    model,
		Cost: func(u llm.Usage) float64 {
			return c.registry.CostOrZero(model, u.PromptTokens, u.CompletionTokens)
		},
	}
	return llm.NewStream(info, func(yield func(llm.StreamEvent) bool) (*llm.Usage, error) {
		if !c.IsAvailable() {
			return nil, c.notConfigured(model)
		}
		if err := llm.Throttle(ctx, c.limiter); err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/chat/completions", buildRequest(opts, model, true))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return processStream(resp.Body, yield)
	})
}

// processStream translates SSE chunks into events. Tool call fragments are
// accumulated per index and each event carries the cumulative arguments.
// Malformed chunks are skipped.
func processStream(body io.Reader, yield func(llm.StreamEvent) bool) (*llm.Usage, error) {
	reader := llm.NewSSEReader(body)
	calls := make(map[int]*llm.ToolCall)
	var usage *llm.Usage
	finished := false

	for {
		_, data, err := reader.ReadEvent()
		if err == io.EOF {
			if finished {
				return usage, nil
			}
			return nil, errTruncated
		}
		if err != nil {
			return nil, err
		}

		// Check for [DONE] signal
		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			return usage, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return nil, chunk.Error.statusError()
		}
		if chunk.Usage != nil {
			u := chunk.Usage.usage()
			usage = &u
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !yield(llm.StreamEvent{Type: llm.EventContent, Content: choice.Delta.Content}) {
					return nil, nil
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := calls[idx]
				if !ok {
					acc = &llm.ToolCall{}
					calls[idx] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Name = tc.Function.Name
				}
				acc.Arguments += tc.Function.Arguments

				snapshot := *acc
				if !yield(llm.StreamEvent{Type: llm.EventToolCall, ToolCall: &snapshot}) {
					return nil, nil
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finished = true
			}
		}
	}
}
