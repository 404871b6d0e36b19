// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"
)

// ============================================================================
// TASK TYPE
// ============================================================================

// TaskType is the inferred nature of a request.
type TaskType int

const (
	// TaskConversation is open chat; it is also the default when nothing matches.
	TaskConversation TaskType = iota
	// TaskClassification covers labeling, sentiment and yes/no judgements.
	TaskClassification
	// TaskGeneration covers writing new prose.
	TaskGeneration
	// TaskReasoning covers explanation, analysis and problem solving.
	TaskReasoning
	// TaskCoding covers writing, reviewing and debugging code.
	TaskCoding
	// TaskSummarization covers condensing supplied text.
	TaskSummarization
	// TaskExtraction covers pulling structured facts out of supplied text.
	TaskExtraction
)

var taskTypeNames = map[TaskType]string{
	TaskConversation:   "conversation",
	TaskClassification: "classification",
	TaskGeneration:     "generation",
	TaskReasoning:      "reasoning",
	TaskCoding:         "coding",
	TaskSummarization:  "summarization",
	TaskExtraction:     "extraction",
}

// String returns the lowercase name of the task type.
func (t TaskType) String() string {
	if name, ok := taskTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TaskType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t TaskType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TaskType) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for k, name := range taskTypeNames {
		if name == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown task type %q", s)
}

// ============================================================================
// COMPLEXITY
// ============================================================================

// Complexity is the estimated difficulty of a request.
type Complexity int

const (
	ComplexityLow Complexity = iota
	ComplexityMedium
	ComplexityHigh
)

// String returns the lowercase name of the complexity level.
func (c Complexity) String() string {
	switch c {
	case ComplexityLow:
		return "low"
	case ComplexityMedium:
		return "medium"
	case ComplexityHigh:
		return "high"
	default:
		return fmt.Sprintf("Complexity(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Complexity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Complexity) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "low":
		*c = ComplexityLow
	case "medium":
		*c = ComplexityMedium
	case "high":
		*c = ComplexityHigh
	default:
		return fmt.Errorf("unknown complexity %q", string(b))
	}
	return nil
}

// ============================================================================
// TIER
// ============================================================================

// Tier is a cost/quality bucket. Ordered cheapest first.
type Tier int

const (
	TierCheap Tier = iota
	TierStandard
	TierPremium
)

// Tiers lists every tier cheapest first.
var Tiers = []Tier{TierCheap, TierStandard, TierPremium}

// String returns the lowercase name of the tier.
func (t Tier) String() string {
	switch t {
	case TierCheap:
		return "cheap"
	case TierStandard:
		return "standard"
	case TierPremium:
		return "premium"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cheap":
		return TierCheap, nil
	case "standard":
		return TierStandard, nil
	case "premium":
		return TierPremium, nil
	default:
		return TierCheap, fmt.Errorf("unknown tier %q (valid: cheap, standard, premium)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ============================================================================
// RESULTS
// ============================================================================

// ClassificationResult is the classifier's verdict on one request.
type ClassificationResult struct {
	TaskType            TaskType   `json:"task_type"`
	EstimatedComplexity Complexity `json:"estimated_complexity"`
	RequiresTools       bool       `json:"requires_tools"`
	RequiresJSONMode    bool       `json:"requires_json_mode"`
}

// TieredClassification is a ClassificationResult plus its recommended tier.
type TieredClassification struct {
	ClassificationResult
	Tier Tier `json:"tier"`
}
