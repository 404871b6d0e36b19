// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/models"
	"github.com/jeranaias/rigrun-router/internal/router"
)

// ErrNoAdapter is wrapped by the error returned when no available adapter
// serves the recommended tier.
var ErrNoAdapter = errors.New("no available adapter for tier")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Policy controls retries. Before retry n (zero-based) the orchestrator
// waits min(BaseDelay<<n, MaxDelay).
type Policy struct {
	MaxAttempts int           // attempts per candidate, at least 1
	BaseDelay   time.Duration // first backoff
	MaxDelay    time.Duration // backoff cap
	Fallback    bool          // move to the next candidate once attempts run out
}

// DefaultPolicy returns 3 attempts, 500ms doubling to 10s, with fallback.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Fallback:    true,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Backoff returns the wait before retry n.
func (p Policy) Backoff(n int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// Candidate is one provider and model able to serve a tier.
type Candidate struct {
	Provider string `json:"provider" toml:"provider"`
	Model    string `json:"model" toml:"model"`
}

func (c Candidate) String() string {
	return c.Provider + ":" + c.Model
}

// DefaultTiers returns the built-in priority orderings:
//
//	cheap     openai:gpt-4o-mini, anthropic:claude-3-5-haiku-20241022,
//	          openrouter:meta-llama/llama-3.1-8b-instruct, ollama:qwen2.5-coder:7b
//	standard  anthropic:claude-sonnet-4-20250514, openai:gpt-4o,
//	          openrouter:anthropic/claude-sonnet-4, ollama:qwen2.5-coder:14b
//	premium   anthropic:claude-opus-4-20250514, openai:o1, openrouter:openai/o1
func DefaultTiers() map[router.Tier][]Candidate {
	return map[router.Tier][]Candidate{
		router.TierCheap: {
			{"openai", "gpt-4o-mini"},
			{"anthropic", "claude-3-5-haiku-20241022"},
			{"openrouter", "meta-llama/llama-3.1-8b-instruct"},
			{"ollama", "qwen2.5-coder:7b"},
		},
		router.TierStandard: {
			{"anthropic", "claude-sonnet-4-20250514"},
			{"openai", "gpt-4o"},
			{"openrouter", "anthropic/claude-sonnet-4"},
			{"ollama", "qwen2.5-coder:14b"},
		},
		router.TierPremium: {
			{"anthropic", "claude-opus-4-20250514"},
			{"openai", "o1"},
			{"openrouter", "openai/o1"},
		},
	}
}

// TokenCounter counts tokens for usage estimation.
type TokenCounter interface {
	Count(text string) int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy replaces the retry policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p.normalized() }
}

// WithTiers replaces the ordering of each tier present in tiers. Tiers
// not present keep their default ordering.
func WithTiers(tiers map[router.Tier][]Candidate) Option {
	return func(o *Orchestrator) {
		for t, cands := range tiers {
			o.tiers[t] = append([]Candidate(nil), cands...)
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder records the outcome of every call.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTokenizer sets the counter used when a vendor withholds usage.
func WithTokenizer(tc TokenCounter) Option {
	return func(o *Orchestrator) {
		if tc != nil {
			o.tokens = tc
		}
	}
}

// WithSleep replaces the backoff wait. The function must return ctx.Err()
// if ctx ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator classifies requests, picks an adapter for the recommended
// tier and applies the retry policy. It is safe for concurrent use; each
// call keeps its own retry state.
type Orchestrator struct {
	adapters map[string]llm.Adapter
	order    []string
	registry *models.Registry
	tiers    map[router.Tier][]Candidate
	policy   Policy
	logger   *slog.Logger
	recorder Recorder
	tokens   TokenCounter
	sleep    func(ctx context.Context, d time.Duration) error
	stats    *Stats
}

// New builds an orchestrator. Adapters are keyed by Name; a later adapter
// with the same name replaces an earlier one. The registry may be nil, in
// which case every cost is zero.
func New(adapters []llm.Adapter, registry *models.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters: make(map[string]llm.Adapter, len(adapters)),
		registry: registry,
		tiers:    DefaultTiers(),
		policy:   DefaultPolicy(),
		logger:   slog.New(slog.DiscardHandler),
		tokens:   models.HeuristicCounter{},
		sleep:    sleepContext,
		stats:    NewStats(),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, ok := o.adapters[a.Name()]; !ok {
			o.order = append(o.order, a.Name())
		}
		o.adapters[a.Name()] = a
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy returns the retry policy in effect.
func (o *Orchestrator) Policy() Policy { return o.policy }

// Tiers returns a copy of the tier orderings.
func (o *Orchestrator) Tiers() map[router.Tier][]Candidate {
	out := make(map[router.Tier][]Candidate, len(o.tiers))
	for t, c := range o.tiers {
		out[t] = append([]Candidate(nil), c...)
	}
	return out
}

// Stats returns the running totals for this orchestrator.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// ClassifyTask classifies a request. A request carrying tool definitions
// always requires tools.
func (o *Orchestrator) ClassifyTask(opts llm.RequestOptions) router.ClassificationResult {
	c := router.ClassifyMessages(opts.Messages)
	if len(opts.Tools) > 0 {
		c.RequiresTools = true
	}
	return c
}

// ClassifyWithTier classifies a request and attaches the recommended tier.
func (o *Orchestrator) ClassifyWithTier(opts llm.RequestOptions) router.TieredClassification {
	c := o.ClassifyTask(opts)
	return router.TieredClassification{ClassificationResult: c, Tier: router.Recommend(c)}
}

// EstimateCost prices a call against the registry.
func (o *Orchestrator) EstimateCost(model string, promptTokens, completionTokens int) (float64, error) {
	if o.registry == nil {
		return 0, models.ErrUnknownModel
	}
	return o.registry.EstimateCost(model, promptTokens, completionTokens)
}

// candidates returns the tier's ordering with unknown or unavailable
// providers removed. No network I/O happens here.
func (o *Orchestrator) candidates(tier router.Tier) []Candidate {
	var out []Candidate
	for _, c := range o.tiers[tier] {
		a, ok := o.adapters[c.Provider]
		if !ok || !a.IsAvailable() {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) noAdapter(tier router.Tier) *llm.Error {
	return llm.NewError(llm.KindProviderError, "", "",
		ErrNoAdapter.Error()+" "+tier.String(), ErrNoAdapter)
}

// Decision is the routing plan for a request, without executing it.
type Decision struct {
	router.TieredClassification
	Candidates   []Candidate `json:"candidates"`
	Selected     Candidate   `json:"selected"`
	PromptTokens int         `json:"prompt_tokens"`
	// PromptCost prices the estimated prompt tokens on the selected model.
	PromptCost float64 `json:"prompt_cost"`
}

// Route classifies opts and reports which candidate would serve it. The
// error is the same one Chat would return when no adapter is available.
func (o *Orchestrator) Route(opts llm.RequestOptions) (Decision, error) {
	d := Decision{TieredClassification: o.ClassifyWithTier(opts)}
	d.Candidates = o.candidates(d.Tier)
	if len(d.Candidates) == 0 {
		return d, o.noAdapter(d.Tier)
	}
	d.Selected = d.Candidates[0]
	d.PromptTokens = o.tokens.Count(opts.Text())
	d.PromptCost = o.registry.CostOrZero(d.Selected.Model, d.PromptTokens, 0)
	return d, nil
}

// ValidateKeys probes every configured adapter concurrently. Unavailable
// adapters report false without a probe.
func (o *Orchestrator) ValidateKeys(ctx context.Context) map[string]bool {
	var mu sync.Mutex
	out := make(map[string]bool, len(o.adapters))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range o.order {
		a := o.adapters[name]
		g.Go(func() error {
			ok := a.IsAvailable() && a.ValidateAPIKey(gctx)
			mu.Lock()
			out[name] = ok
			mu.Unlock()
			o.logger.Debug("key validation", "provider", name, "valid", ok)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
