// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/rigrun-router/internal/llm"
)

var errTruncated = fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF)

// StreamChat starts a streaming Messages request. The request is sent when
// the returned stream is first iterated.
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
			return nil, c.notConfigured(model)
		}
		if err := llm.Throttle(ctx, c.limiter); err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/v1/messages",
			buildRequest(opts, model, c.maxTokens(opts, model), true))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return processStream(resp.Body, yield)
	})
}

// processStream translates Messages API events:
//
//	message_start        prompt token count
//	content_block_start  opens a tool accumulator keyed by block index
//	content_block_delta  text_delta emits content; input_json_delta extends
//	                     the block's arguments and re-emits the whole call
//	message_delta        completion token count and stop reason
//	message_stop         ends the stream
//	error                ends the stream with the vendor error
func processStream(body io.Reader, yield func(llm.StreamEvent) bool) (*llm.Usage, error) {
	reader := llm.NewSSEReader(body)
	tools := make(map[int]*llm.ToolCall)
	var usage llm.Usage
	haveUsage, stopped := false, false

	result := func() *llm.Usage {
		if !haveUsage {
			return nil
		}
		return &usage
	}

	for {
		_, data, err := reader.ReadEvent()
		if err == io.EOF {
			if stopped {
				return result(), nil
			}
			return nil, errTruncated
		}
		if err != nil {
			return nil, err
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.PromptTokens = ev.Message.Usage.InputTokens
				usage.CompletionTokens = ev.Message.Usage.OutputTokens
				haveUsage = true
			}

		case "content_block_start":
			if ev.ContentBlock == nil || ev.ContentBlock.Type != "tool_use" {
				continue
			}
			call := &llm.ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			tools[ev.Index] = call
			snapshot := *call
			if !yield(llm.StreamEvent{Type: llm.EventToolCall, ToolCall: &snapshot}) {
				return nil, nil
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text == "" {
					continue
				}
				if !yield(llm.StreamEvent{Type: llm.EventContent, Content: ev.Delta.Text}) {
					return nil, nil
				}
			case "input_json_delta":
				call, ok := tools[ev.Index]
				if !ok {
					continue
				}
				call.Arguments += ev.Delta.PartialJSON
				snapshot := *call
				if !yield(llm.StreamEvent{Type: llm.EventToolCall, ToolCall: &snapshot}) {
					return nil, nil
				}
			}

		case "message_delta":
			if ev.Usage != nil {
				usage.CompletionTokens = ev.Usage.OutputTokens
				if ev.Usage.InputTokens > 0 {
					usage.PromptTokens = ev.Usage.InputTokens
				}
				haveUsage = true
			}
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				stopped = true
			}

		case "message_stop":
			return result(), nil

		case "error":
			se := &llm.StatusError{Body: "stream error"}
			if ev.Error != nil {
				se.Code, se.Body = ev.Error.Type, ev.Error.Message
			}
			return nil, se
		}
	}
}
