// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama implements the llm.Adapter for a local Ollama server.
//
// The server speaks newline-delimited JSON on /api/chat. It needs no
// credential, so availability is a configuration switch rather than a key
// check. Tool calls arrive whole and carry no id; the adapter numbers them
// call_0, call_1 and so on within each response.
//
// # Usage
//
//	client := ollama.NewClient(&ollama.ClientConfig{Enabled: true}, registry)
//	resp, err := client.Chat(ctx, llm.RequestOptions{
//	    Messages: []llm.ChatMessage{llm.User("Hello")},
//	}, "qwen2.5-coder:7b")
package ollama
