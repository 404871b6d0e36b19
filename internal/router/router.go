// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "github.com/jeranaias/rigrun-router/internal/llm"

// Recommend maps a classification to a tier with a fixed table:
//
//	complexity  tools or json  tier
//	high        any            premium
//	medium      any            standard
//	low         no             cheap
//	low         yes            standard
func Recommend(c ClassificationResult) Tier {
	switch c.EstimatedComplexity {
	case ComplexityHigh:
		return TierPremium
	case ComplexityLow:
		if c.RequiresTools || c.RequiresJSONMode {
			return TierStandard
		}
		return TierCheap
	default:
		return TierStandard
	}
}

// ClassifyWithTier classifies text and attaches the recommended tier.
func ClassifyWithTier(text string) TieredClassification {
	c := Classify(text)
	return TieredClassification{ClassificationResult: c, Tier: Recommend(c)}
}

// ClassifyMessagesWithTier is ClassifyWithTier for a conversation.
func ClassifyMessagesWithTier(messages []llm.ChatMessage) TieredClassification {
	c := ClassifyMessages(messages)
	return TieredClassification{ClassificationResult: c, Tier: Recommend(c)}
}
