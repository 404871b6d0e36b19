// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// ErrUnknownModel is returned for ids missing from the registry.
var ErrUnknownModel = errors.New("unknown model")

// =============================================================================
// MODEL CONFIG
// =============================================================================

// ModelConfig is the static metadata for one model. Prices are USD per token.
type ModelConfig struct {
	ID                      string  `json:"id"`
	Provider                string  `json:"provider"`
	MaxOutputTokens         int     `json:"max_output_tokens"`
	ContextWindow           int     `json:"context_window,omitempty"`
	PricePerPromptToken     float64 `json:"price_per_prompt_token"`
	PricePerCompletionToken float64 `json:"price_per_completion_token"`
}

// Cost prices a call. Negative counts are treated as zero.
func (m ModelConfig) Cost(promptTokens, completionTokens int) float64 {
	return float64(max(promptTokens, 0))*m.PricePerPromptToken +
		float64(max(completionTokens, 0))*m.PricePerCompletionToken
}

// Entry is a catalog row as written in YAML or TOML, priced per million tokens.
type Entry struct {
	ID                   string  `yaml:"id" toml:"id"`
	Provider             string  `yaml:"provider" toml:"provider"`
	MaxOutputTokens      int     `yaml:"max_output_tokens" toml:"max_output_tokens"`
	ContextWindow        int     `yaml:"context_window" toml:"context_window"`
	PromptPerMillion     float64 `yaml:"prompt_per_million" toml:"prompt_per_million"`
	CompletionPerMillion float64 `yaml:"completion_per_million" toml:"completion_per_million"`
}

// Config converts the entry to per-token prices.
func (e Entry) Config() ModelConfig {
	return ModelConfig{
		ID:                      e.ID,
		Provider:                e.Provider,
		MaxOutputTokens:         e.MaxOutputTokens,
		ContextWindow:           e.ContextWindow,
		PricePerPromptToken:     e.PromptPerMillion / 1e6,
		PricePerCompletionToken: e.CompletionPerMillion / 1e6,
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is an immutable table of models keyed by id. It is safe for
// concurrent use without locking.
type Registry struct {
	byID map[string]ModelConfig
	all  []ModelConfig
}

// New validates configs and builds a registry.
func New(configs []ModelConfig) (*Registry, error) {
	r := &Registry{byID: make(map[string]ModelConfig, len(configs))}
	for i, c := range configs {
		switch {
		case c.ID == "":
			return nil, fmt.Errorf("model %d: empty id", i)
		case c.Provider == "":
			return nil, fmt.Errorf("model %q: empty provider", c.ID)
		case c.PricePerPromptToken < 0 || c.PricePerCompletionToken < 0:
			return nil, fmt.Errorf("model %q: negative price", c.ID)
		case c.MaxOutputTokens < 0:
			return nil, fmt.Errorf("model %q: negative max output tokens", c.ID)
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("model %q: duplicate id", c.ID)
		}
		r.byID[c.ID] = c
		r.all = append(r.all, c)
	}
	sort.Slice(r.all, func(i, j int) bool {
		if r.all[i].Provider != r.all[j].Provider {
			return r.all[i].Provider < r.all[j].Provider
		}
		return r.all[i].ID < r.all[j].ID
	})
	return r, nil
}

// Default builds a registry from the embedded catalog.
func Default() (*Registry, error) {
	entries, err := ParseCatalog(catalogYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	return FromEntries(entries)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) ([]Entry, error) {
	var doc struct {
		Models []Entry `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return doc.Models, nil
}

// FromEntries builds a registry from catalog rows.
func FromEntries(entries []Entry) (*Registry, error) {
	configs := make([]ModelConfig, len(entries))
	for i, e := range entries {
		configs[i] = e.Config()
	}
	return New(configs)
}

// Merge returns a new registry with extra added. Entries in extra replace
// existing ids. The receiver is unchanged.
func (r *Registry) Merge(extra []ModelConfig) (*Registry, error) {
	override := make(map[string]bool, len(extra))
	for _, c := range extra {
		override[c.ID] = true
	}
	merged := make([]ModelConfig, 0, len(r.all)+len(extra))
	for _, c := range r.all {
		if !override[c.ID] {
			merged = append(merged, c)
		}
	}
	return New(append(merged, extra...))
}

// Lookup returns the config for id.
func (r *Registry) Lookup(id string) (ModelConfig, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns every model sorted by provider then id.
func (r *Registry) All() []ModelConfig {
	return append([]ModelConfig(nil), r.all...)
}

// ByProvider returns the models served by provider, sorted by id.
func (r *Registry) ByProvider(provider string) []ModelConfig {
	var out []ModelConfig
	for _, c := range r.all {
		if c.Provider == provider {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of models.
func (r *Registry) Len() int {
	return len(r.all)
}

// EstimateCost returns promptTokens*pricePerPromptToken +
// completionTokens*pricePerCompletionToken in USD.
func (r *Registry) EstimateCost(model string, promptTokens, completionTokens int) (float64, error) {
	c, ok := r.byID[model]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return c.Cost(promptTokens, completionTokens), nil
}

// CostOrZero is EstimateCost for callers that report cost as metadata and
// treat unpriced models as free.
func (r *Registry) CostOrZero(model string, promptTokens, completionTokens int) float64 {
	if r == nil {
		return 0
	}
	cost, err := r.EstimateCost(model, promptTokens, completionTokens)
	if err != nil {
		return 0
	}
	return cost
}
