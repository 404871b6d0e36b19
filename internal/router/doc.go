// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router classifies chat requests and recommends a cost tier.
//
// Everything here is pure and deterministic: no I/O, no shared state, and
// the same input always gives the same result.
//
// # Key Types
//
//   - ClassificationResult: task type, complexity, tool and JSON needs
//   - TaskType: conversation, classification, generation, reasoning, coding, summarization, extraction
//   - Complexity: low, medium, high
//   - Tier: cheap, standard, premium
//
// # Usage
//
//	c := router.ClassifyWithTier("Is this spam? Yes or no")
//	// c.TaskType == TaskClassification, c.Tier == TierCheap
//
// Task types are scored by keyword matchers; ties go to the more specific
// type in the order coding, extraction, summarization, classification,
// reasoning, generation, conversation.
package router
