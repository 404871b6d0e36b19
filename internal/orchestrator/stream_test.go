// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-router/internal/llm"
)

func content(s string) llm.StreamEvent { return llm.StreamEvent{Type: llm.EventContent, Content: s} }

func doneWith(prompt, completion int) llm.StreamEvent {
	return llm.StreamEvent{Type: llm.EventDone, Usage: &llm.Usage{PromptTokens: prompt, CompletionTokens: completion}}
}

func failed(kind llm.Kind) llm.StreamEvent {
	return llm.ErrorEvent(llm.NewError(kind, "a", "a-small", "boom", nil))
}

func drain(s llm.Stream) []llm.StreamEvent {
	var out []llm.StreamEvent
	for ev := range s {
		out = append(out, ev)
	}
	return out
}

func TestStreamChat_PassesThroughAndEnrichesDone(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{content("Hel"), content("lo"), doneWith(0, 2)}
	}}
	rec := &memRecorder{}
	o := New([]llm.Adapter{a}, testRegistry(t), cheapTiers(), WithRecorder(rec))

	events := drain(o.StreamChat(context.Background(), hi))
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Content)

	done := events[2]
	require.Equal(t, llm.EventDone, done.Type)
	assert.Equal(t, "a", done.Provider)
	assert.Equal(t, "a-small", done.Model)
	require.NotNil(t, done.Usage)
	assert.Positive(t, done.Usage.PromptTokens, "completion-only usage gets an estimated prompt count")
	assert.Equal(t, 2, done.Usage.CompletionTokens)
	assert.True(t, done.Usage.Estimated)
	assert.Positive(t, done.EstimatedCost)

	require.Len(t, rec.outcomes, 1)
	assert.True(t, rec.outcomes[0].Streamed)
	assert.False(t, rec.outcomes[0].Failed())
}

func TestStreamChat_RetriesBeforeFirstEvent(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(n int) []llm.StreamEvent {
		if n == 1 {
			return []llm.StreamEvent{failed(llm.KindRateLimit)}
		}
		return []llm.StreamEvent{content("ok"), doneWith(3, 1)}
	}}
	sl := &sleepLog{}
	o := New([]llm.Adapter{a}, testRegistry(t), cheapTiers(), WithSleep(sl.sleep))

	events := drain(o.StreamChat(context.Background(), hi))

	assert.Equal(t, 2, a.Calls())
	require.Len(t, events, 2)
	assert.Equal(t, llm.EventContent, events[0].Type)
	assert.Equal(t, llm.EventDone, events[1].Type)
	assert.Len(t, sl.delays, 1)
}

func TestStreamChat_FallsBackBeforeFirstEvent(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{failed(llm.KindNetworkError)}
	}}
	b := &fakeAdapter{name: "b", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{content("from b"), doneWith(1, 1)}
	}}
	o := New([]llm.Adapter{a, b}, testRegistry(t), cheapTiers(), WithSleep((&sleepLog{}).sleep))

	events := drain(o.StreamChat(context.Background(), hi))

	assert.Equal(t, 3, a.Calls())
	assert.Equal(t, 1, b.Calls())
	last := events[len(events)-1]
	assert.Equal(t, llm.EventDone, last.Type)
	assert.Equal(t, "b", last.Provider)
}

func TestStreamChat_NoRetryAfterFirstEvent(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{content("par"), failed(llm.KindNetworkError)}
	}}
	b := &fakeAdapter{name: "b", available: true}
	o := New([]llm.Adapter{a, b}, testRegistry(t), cheapTiers(), WithSleep((&sleepLog{}).sleep))

	events := drain(o.StreamChat(context.Background(), hi))

	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 0, b.Calls())
	require.Len(t, events, 2)
	require.Equal(t, llm.EventError, events[1].Type)
	assert.Equal(t, llm.KindNetworkError, events[1].Err.Kind)
}

func TestStreamChat_TerminalErrorNotRetried(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{failed(llm.KindContextLengthExceeded)}
	}}
	o := New([]llm.Adapter{a}, testRegistry(t), cheapTiers())

	events := drain(o.StreamChat(context.Background(), hi))
	assert.Equal(t, 1, a.Calls())
	require.Len(t, events, 1)
	assert.Equal(t, llm.KindContextLengthExceeded, events[0].Err.Kind)
}

func TestStreamChat_MissingTerminalBecomesError(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{content("dangling")}
	}}
	o := New([]llm.Adapter{a}, testRegistry(t), cheapTiers())

	events := drain(o.StreamChat(context.Background(), hi))
	require.Len(t, events, 2)
	assert.Equal(t, llm.EventError, events[1].Type)
	assert.Equal(t, llm.KindProviderError, events[1].Err.Kind)
}

func TestStreamChat_EarlyBreakIsRecordedAsAbandoned(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{content("one"), content("two"), doneWith(1, 2)}
	}}
	rec := &memRecorder{}
	o := New([]llm.Adapter{a}, testRegistry(t), cheapTiers(), WithRecorder(rec))

	for ev := range o.StreamChat(context.Background(), hi) {
		assert.Equal(t, "one", ev.Content)
		break
	}

	require.Len(t, rec.outcomes, 1)
	assert.True(t, rec.outcomes[0].Abandoned)
	assert.True(t, rec.outcomes[0].Usage.Estimated)
}

func TestStreamChat_NoAdapter(t *testing.T) {
	o := New(nil, nil)
	events := drain(o.StreamChat(context.Background(), hi))
	require.Len(t, events, 1)
	require.Equal(t, llm.EventError, events[0].Type)
	assert.ErrorIs(t, events[0].Err, ErrNoAdapter)
}

func TestStreamChat_SingleUse(t *testing.T) {
	a := &fakeAdapter{name: "a", available: true, stream: func(int) []llm.StreamEvent {
		return []llm.StreamEvent{doneWith(1, 1)}
	}}
	o := New([]llm.Adapter{a}, testRegistry(t), cheapTiers())

	s := o.StreamChat(context.Background(), hi)
	drain(s)
	again := drain(s)

	require.Len(t, again, 1)
	assert.ErrorIs(t, again[0].Err, llm.ErrStreamConsumed)
	assert.Equal(t, 1, a.Calls())
}
