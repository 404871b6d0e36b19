// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the llm.Adapter for OpenAI-compatible Chat
// Completions APIs. The same client serves OpenAI and OpenRouter; only the
// base URL, key probe and attribution headers differ.
//
// # Key Types
//
//   - Client: adapter with chat, SSE streaming and key validation
//   - Config: endpoint settings
//
// # Usage
//
//	reg, _ := models.Default()
//	client := cloud.NewOpenRouter(apiKey, reg)
//	resp, err := client.Chat(ctx, llm.RequestOptions{
//	    Messages: []llm.ChatMessage{llm.User("Hello")},
//	}, "anthropic/claude-sonnet-4")
//
// # Security
//
// API keys are never logged; log lines carry KeyFingerprint instead. All
// requests require TLS 1.2 or newer.
package cloud
