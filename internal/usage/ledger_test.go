// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/orchestrator"
	"github.com/jeranaias/rigrun-router/internal/router"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func outcome(id, provider, model string, at time.Time, prompt, completion int, cost, baseline float64) orchestrator.Outcome {
	return orchestrator.Outcome{
		RequestID:  id,
		Time:       at,
		TaskType:   router.TaskCoding,
		Complexity: router.ComplexityMedium,
		Tier:       router.TierStandard,
		Provider:   provider,
		Model:      model,
		Attempts:   1,
		Usage:      llm.Usage{PromptTokens: prompt, CompletionTokens: completion}.Normalize(),
		Cost:       cost,
		Baseline:   baseline,
		LatencyMs:  42,
	}
}

func TestLedger_RecordAndRecent(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	first := outcome("req-1", "openai", "gpt-4o-mini", base, 100, 50, 0.001, 0.01)
	second := outcome("req-2", "anthropic", "claude-sonnet-4", base.Add(time.Second), 10, 5, 0.002, 0.005)
	second.Streamed = true
	second.Abandoned = true
	second.Usage.Estimated = true
	second.Attempts, second.Fallbacks = 3, 1

	require.NoError(t, l.Record(ctx, first))
	require.NoError(t, l.Record(ctx, second))

	got, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// newest first
	assert.Equal(t, "req-2", got[0].RequestID)
	assert.Equal(t, "req-1", got[1].RequestID)

	r := got[0]
	assert.True(t, r.Time.Equal(second.Time))
	assert.Equal(t, router.TaskCoding, r.TaskType)
	assert.Equal(t, router.ComplexityMedium, r.Complexity)
	assert.Equal(t, router.TierStandard, r.Tier)
	assert.Equal(t, "anthropic", r.Provider)
	assert.Equal(t, "claude-sonnet-4", r.Model)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 1, r.Fallbacks)
	assert.True(t, r.Streamed)
	assert.True(t, r.Abandoned)
	assert.Equal(t, llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Estimated: true}, r.Usage)
	assert.InDelta(t, 0.002, r.Cost, 1e-12)
	assert.InDelta(t, 0.005, r.Baseline, 1e-12)
	assert.Equal(t, int64(42), r.LatencyMs)
	assert.False(t, r.Failed())

	limited, err := l.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLedger_RecordFailure(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	o := outcome("", "", "", time.Time{}, 0, 0, 0, 0)
	o.ErrKind = llm.KindRateLimit
	o.ErrMessage = "slow down"
	require.NoError(t, l.Record(ctx, o))

	got, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].RequestID, "missing ids are generated")
	assert.False(t, got[0].Time.IsZero(), "missing time defaults to now")
	assert.True(t, got[0].Failed())
	assert.Equal(t, llm.KindRateLimit, got[0].ErrKind)
	assert.Equal(t, "slow down", got[0].ErrMessage)
}

func TestLedger_RecordReplacesSameID(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Record(ctx, outcome("dup", "openai", "gpt-4o", now, 1, 1, 0.5, 1)))
	require.NoError(t, l.Record(ctx, outcome("dup", "openai", "gpt-4o", now, 2, 2, 0.25, 1)))

	got, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Usage.PromptTokens)
}

func TestLedger_Summarize(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	old := outcome("old", "openai", "gpt-4o", base.Add(-time.Hour), 1000, 1000, 5, 5)
	a1 := outcome("a1", "openai", "gpt-4o-mini", base, 100, 10, 0.01, 0.10)
	a2 := outcome("a2", "openai", "gpt-4o-mini", base.Add(time.Minute), 200, 20, 0.02, 0.20)
	b1 := outcome("b1", "anthropic", "claude-sonnet-4", base.Add(2*time.Minute), 50, 5, 0.05, 0.06)
	failed := outcome("f1", "anthropic", "claude-sonnet-4", base.Add(3*time.Minute), 0, 0, 0, 0.5)
	failed.ErrKind = llm.KindTimeout

	for _, o := range []orchestrator.Outcome{old, a1, a2, b1, failed} {
		require.NoError(t, l.Record(ctx, o))
	}

	s, err := l.Summarize(ctx, base)
	require.NoError(t, err)
	require.Len(t, s.Rows, 2)

	// ordered by cost descending
	assert.Equal(t, "anthropic", s.Rows[0].Provider)
	assert.Equal(t, 2, s.Rows[0].Calls)
	assert.Equal(t, 1, s.Rows[0].Failed)
	assert.InDelta(t, 0.05, s.Rows[0].Cost, 1e-9)

	assert.Equal(t, "gpt-4o-mini", s.Rows[1].Model)
	assert.Equal(t, 2, s.Rows[1].Calls)
	assert.Equal(t, 300, s.Rows[1].PromptTokens)
	assert.Equal(t, 30, s.Rows[1].CompletionTokens)

	assert.Equal(t, 4, s.Totals.Calls)
	assert.Equal(t, 1, s.Totals.Failed)
	assert.InDelta(t, 0.08, s.Totals.Cost, 1e-9)
	// failed calls do not count as savings
	assert.InDelta(t, 0.09+0.18+0.01, s.Saved, 1e-9)

	all, err := l.Summarize(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5, all.Totals.Calls)
}

func TestLedger_SummarizeEmpty(t *testing.T) {
	l := openTest(t)
	s, err := l.Summarize(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, s.Rows)
	assert.Zero(t, s.Totals.Calls)
	assert.Zero(t, s.Saved)
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), outcome("keep", "ollama", "llama3", time.Now(), 1, 1, 0, 0)))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	got, err := l.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].RequestID)
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Record(ctx, outcome("", "openai", "gpt-4o-mini", time.Now(), 1, 1, 0.001, 0.01)))
		}()
	}
	wg.Wait()

	s, err := l.Summarize(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 20, s.Totals.Calls)
}
