// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the router configuration.
//
// The file is TOML, read from --config, $RIGRUN_CONFIG or
// ~/.rigrun/router.toml, in that order. A missing file means defaults.
//
// # Configuration Precedence
//
//   - Environment variables (vendor API keys and RIGRUN_*)
//   - The config file
//   - Built-in defaults
//
// # Example
//
//	[retry]
//	max_attempts = 3
//	fallback = true
//
//	[providers.anthropic]
//	api_key = "sk-ant-..."
//	requests_per_minute = 50
//
//	[providers.ollama]
//	enabled = true
//
//	[tiers]
//	cheap = ["ollama:qwen2.5-coder:7b", "openai:gpt-4o-mini"]
//
//	[[models]]
//	id = "qwen2.5-coder:32b"
//	provider = "ollama"
//	max_output_tokens = 8192
package config
