// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecommend_Table enumerates every input combination against the decision table.
func TestRecommend_Table(t *testing.T) {
	tasks := []TaskType{
		TaskConversation, TaskClassification, TaskGeneration, TaskReasoning,
		TaskCoding, TaskSummarization, TaskExtraction,
	}
	bools := []bool{false, true}

	for _, task := range tasks {
		for _, complexity := range []Complexity{ComplexityLow, ComplexityMedium, ComplexityHigh} {
			for _, tools := range bools {
				for _, jsonMode := range bools {
					c := ClassificationResult{
						TaskType:            task,
						EstimatedComplexity: complexity,
						RequiresTools:       tools,
						RequiresJSONMode:    jsonMode,
					}

					var want Tier
					switch {
					case complexity == ComplexityHigh:
						want = TierPremium
					case complexity == ComplexityMedium:
						want = TierStandard
					case tools || jsonMode:
						want = TierStandard
					default:
						want = TierCheap
					}

					assert.Equal(t, want, Recommend(c), "%+v", c)
				}
			}
		}
	}
}

// TestClassifyWithTier_Scenarios covers the documented end-to-end routing examples.
func TestClassifyWithTier_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		task       TaskType
		complexity Complexity
		tier       Tier
	}{
		{"spam_check", "Is this spam? Yes or no", TaskClassification, ComplexityLow, TierCheap},
		{"architecture", "Give me a comprehensive analysis of this complex system architecture", TaskReasoning, ComplexityHigh, TierPremium},
		{"search_promoted", "Search the web for the latest news", TaskConversation, ComplexityLow, TierStandard},
		{"empty", "", TaskConversation, ComplexityLow, TierCheap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyWithTier(tt.query)
			assert.Equal(t, tt.task, got.TaskType)
			assert.Equal(t, tt.complexity, got.EstimatedComplexity)
			assert.Equal(t, tt.tier, got.Tier)
		})
	}
}

func TestTieredClassification_JSON(t *testing.T) {
	got := ClassifyWithTier("Give me a comprehensive analysis of this complex system architecture")
	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"task_type": "reasoning",
		"estimated_complexity": "high",
		"requires_tools": false,
		"requires_json_mode": false,
		"tier": "premium"
	}`, string(data))

	var back TieredClassification
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, got, back)
}

func TestParseTier(t *testing.T) {
	for _, tier := range Tiers {
		parsed, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, parsed)
	}

	parsed, err := ParseTier(" PREMIUM ")
	require.NoError(t, err)
	assert.Equal(t, TierPremium, parsed)

	_, err = ParseTier("gold")
	assert.Error(t, err)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "coding", TaskCoding.String())
	assert.Equal(t, "TaskType(99)", TaskType(99).String())
	assert.Equal(t, "medium", ComplexityMedium.String())
	assert.Equal(t, "Complexity(9)", Complexity(9).String())
	assert.Equal(t, "cheap", TierCheap.String())
	assert.Equal(t, "Tier(7)", Tier(7).String())

	var task TaskType
	assert.Error(t, task.UnmarshalText([]byte("poetry")))
	var c Complexity
	assert.Error(t, c.UnmarshalText([]byte("extreme")))
}
