// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens with the cl100k_base encoding. The encoding is
// loaded on first use; if it cannot be loaded the heuristic in
// EstimateTokens is used instead.
type Tokenizer struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTokenizer returns a lazily initialized tokenizer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Count returns the token count for text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding("cl100k_base")
	})
	if t.err != nil || t.enc == nil {
		return EstimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Err reports why the encoding failed to load, if it did.
func (t *Tokenizer) Err() error {
	return t.err
}

// EstimateTokens approximates a token count from word and character
// counts without any vocabulary.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)

	// Blend of word and char estimates
	n := (words + chars/4) / 2
	if n == 0 {
		n = 1
	}
	return n
}

// HeuristicCounter counts with EstimateTokens only.
type HeuristicCounter struct{}

// Count implements the orchestrator's token counter.
func (HeuristicCounter) Count(text string) int {
	return EstimateTokens(text)
}
