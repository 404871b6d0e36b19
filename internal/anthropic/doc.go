// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package anthropic implements the llm.Adapter for the Anthropic Messages API.
//
// Streaming tool calls arrive as input_json_delta fragments attached to a
// content block index. The adapter keeps one accumulator per block and
// emits the full argument text so far with every fragment, so consumers
// never reassemble deltas themselves.
package anthropic
