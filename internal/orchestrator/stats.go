// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/router"
)

// Outcome describes one finished orchestrated call.
type Outcome struct {
	RequestID  string            `json:"request_id"`
	Time       time.Time         `json:"time"`
	TaskType   router.TaskType   `json:"task_type"`
	Complexity router.Complexity `json:"complexity"`
	Tier       router.Tier       `json:"tier"`
	Provider   string            `json:"provider,omitempty"`
	Model      string            `json:"model,omitempty"`
	Attempts   int               `json:"attempts"`
	Fallbacks  int               `json:"fallbacks"`
	Streamed   bool              `json:"streamed"`
	Abandoned  bool              `json:"abandoned,omitempty"` // consumer stopped reading the stream
	Usage      llm.Usage         `json:"usage"`
	Cost       float64           `json:"cost"`
	Baseline   float64           `json:"baseline_cost"` // same usage priced on the first premium candidate
	LatencyMs  int64             `json:"latency_ms"`
	ErrKind    llm.Kind          `json:"error_kind,omitempty"`
	ErrMessage string            `json:"error_message,omitempty"`
}

// Failed reports whether the call ended in an error.
func (o Outcome) Failed() bool { return o.ErrKind != "" }

// Recorder persists outcomes. Record is called synchronously after each
// call; a returned error is logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// ============================================================================
// SESSION STATISTICS
// ============================================================================

// Stats tracks cumulative statistics for one orchestrator.
// All methods are safe for concurrent access.
type Stats struct {
	mu sync.RWMutex

	snap Snapshot
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	// TotalRequests is the number of calls finished, failed or not.
	TotalRequests int `json:"total_requests"`
	// Failed is the number of calls that ended in an error.
	Failed int `json:"failed"`
	// Retries counts attempts beyond the first, across all candidates.
	Retries int `json:"retries"`
	// Fallbacks counts moves to a later candidate.
	Fallbacks int `json:"fallbacks"`
	// ByTier counts calls per recommended tier.
	ByTier map[router.Tier]int `json:"by_tier"`
	// ByProvider counts successful calls per provider.
	ByProvider map[string]int `json:"by_provider"`
	// TotalCost is the cumulative cost in dollars.
	TotalCost float64 `json:"total_cost"`
	// TotalSaved is the cumulative difference to the premium baseline.
	TotalSaved float64 `json:"total_saved"`
	// PromptTokens is the cumulative prompt tokens.
	PromptTokens int `json:"prompt_tokens"`
	// CompletionTokens is the cumulative completion tokens.
	CompletionTokens int `json:"completion_tokens"`
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	s := &Stats{}
	s.reset()
	return s
}

func (s *Stats) reset() {
	s.snap = Snapshot{ByTier: map[router.Tier]int{}, ByProvider: map[string]int{}}
}

// Add folds an outcome into the totals.
func (s *Stats) Add(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.TotalRequests++
	s.snap.ByTier[o.Tier]++
	if o.Attempts > 1 {
		s.snap.Retries += o.Attempts - 1 - o.Fallbacks
	}
	s.snap.Fallbacks += o.Fallbacks
	if o.Failed() {
		s.snap.Failed++
		return
	}
	s.snap.ByProvider[o.Provider]++
	s.snap.TotalCost += o.Cost
	s.snap.TotalSaved += o.Baseline - o.Cost
	s.snap.PromptTokens += o.Usage.PromptTokens
	s.snap.CompletionTokens += o.Usage.CompletionTokens
}

// Snapshot returns a copy of the current totals.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.ByTier = make(map[router.Tier]int, len(s.snap.ByTier))
	for k, v := range s.snap.ByTier {
		out.ByTier[k] = v
	}
	out.ByProvider = make(map[string]int, len(s.snap.ByProvider))
	for k, v := range s.snap.ByProvider {
		out.ByProvider[k] = v
	}
	return out
}

// Reset clears all statistics.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// CostEfficiencyPercent returns what percentage of the premium baseline
// was actually spent. 0 when nothing has been spent.
func (s Snapshot) CostEfficiencyPercent() float64 {
	baseline := s.TotalCost + s.TotalSaved
	if baseline == 0 {
		return 0
	}
	return s.TotalCost / baseline * 100
}

// Summary returns a one-line human-readable summary.
func (s Snapshot) Summary() string {
	if s.TotalRequests == 0 {
		return "No requests processed yet"
	}
	pct := func(n int) float64 { return float64(n) / float64(s.TotalRequests) * 100 }
	return fmt.Sprintf(
		"%d requests (%.0f%% cheap, %.0f%% standard, %.0f%% premium) | %d failed, %d retries, %d fallbacks | Cost: $%.4f | Saved: $%.4f vs premium",
		s.TotalRequests,
		pct(s.ByTier[router.TierCheap]),
		pct(s.ByTier[router.TierStandard]),
		pct(s.ByTier[router.TierPremium]),
		s.Failed, s.Retries, s.Fallbacks,
		s.TotalCost, s.TotalSaved,
	)
}
