// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the provider-neutral chat model shared by every
// adapter and the orchestrator.
//
// # Key Types
//
//   - ChatMessage, RequestOptions: the decoded request
//   - Response: a completed non-streaming call
//   - StreamEvent, Stream: normalized streaming events (content, tool_call, done, error)
//   - Error, Kind: the closed failure taxonomy and its retry predicate
//   - Adapter: the per-vendor contract
//
// # Error Classification
//
// Adapters turn every vendor failure into an *Error with ClassifyError.
// Status codes win over message text:
//
//	429          rate_limit        retryable
//	401          invalid_api_key
//	402, 403     quota_exceeded
//	404          model_not_found
//	408, 504     timeout           retryable
//
// Anything that matches nothing becomes provider_error.
//
// # Streaming
//
// Adapters build streams with NewStream, which guarantees exactly one
// terminal event and lets a consumer stop early:
//
//	for ev := range adapter.StreamChat(ctx, opts, model) {
//	    if ev.Type == llm.EventContent {
//	        fmt.Print(ev.Content)
//	    }
//	}
package llm
