// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/router"
	"github.com/jeranaias/rigrun-router/internal/util"
)

// previewRunes bounds how much of a prompt reaches debug logs.
const previewRunes = 80

// call is the per-request state shared by Chat and StreamChat.
type call struct {
	opts    llm.RequestOptions
	start   time.Time
	class   router.TieredClassification
	outcome Outcome
}

func (o *Orchestrator) begin(opts llm.RequestOptions, streamed bool) *call {
	c := &call{opts: opts, start: time.Now(), class: o.ClassifyWithTier(opts)}
	c.outcome = Outcome{
		RequestID:  uuid.NewString(),
		Time:       c.start,
		TaskType:   c.class.TaskType,
		Complexity: c.class.EstimatedComplexity,
		Tier:       c.class.Tier,
		Streamed:   streamed,
	}

	o.logger.Info("routing request",
		"request_id", c.outcome.RequestID,
		"task", c.class.TaskType,
		"complexity", c.class.EstimatedComplexity,
		"tier", c.class.Tier,
		"tools", c.class.RequiresTools,
		"json", c.class.RequiresJSONMode,
		"stream", streamed,
	)
	o.logger.Debug("request prompt", "request_id", c.outcome.RequestID,
		"messages", len(opts.Messages), "prompt", util.Preview(lastUser(opts.Messages), previewRunes))
	return c
}

func lastUser(messages []llm.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// finish logs the outcome, adds it to the stats and hands it to the
// recorder. It runs even when ctx is already cancelled.
func (o *Orchestrator) finish(ctx context.Context, c *call, err *llm.Error) {
	c.outcome.LatencyMs = time.Since(c.start).Milliseconds()
	if err != nil {
		c.outcome.ErrKind = err.Kind
		c.outcome.ErrMessage = err.Message
		o.logger.Warn("request failed",
			"request_id", c.outcome.RequestID,
			"kind", err.Kind,
			"retryable", err.Retryable,
			"provider", err.Provider,
			"model", err.Model,
			"attempts", c.outcome.Attempts,
			"error", err.Message,
		)
	} else {
		o.logger.Info("request complete",
			"request_id", c.outcome.RequestID,
			"provider", c.outcome.Provider,
			"model", c.outcome.Model,
			"attempts", c.outcome.Attempts,
			"tokens", c.outcome.Usage.TotalTokens,
			"estimated_usage", c.outcome.Usage.Estimated,
			"cost", c.outcome.Cost,
			"latency_ms", c.outcome.LatencyMs,
			"abandoned", c.outcome.Abandoned,
		)
	}

	o.stats.Add(c.outcome)
	if o.recorder != nil {
		if rerr := o.recorder.Record(context.WithoutCancel(ctx), c.outcome); rerr != nil {
			o.logger.Warn("record outcome", "request_id", c.outcome.RequestID, "error", rerr)
		}
	}
}

// settle fills missing usage from the tokenizer, prices it and stores both
// on the outcome.
func (o *Orchestrator) settle(c *call, completion string, u *llm.Usage) (llm.Usage, float64) {
	var usage llm.Usage
	if u != nil {
		usage = *u
	}
	if usage.PromptTokens == 0 {
		if n := o.tokens.Count(c.opts.Text()); n > 0 {
			usage.PromptTokens = n
			usage.Estimated = true
		}
	}
	if usage.CompletionTokens == 0 && completion != "" {
		usage.CompletionTokens = o.tokens.Count(completion)
		usage.Estimated = true
	}
	usage = usage.Normalize()

	cost := o.registry.CostOrZero(c.outcome.Model, usage.PromptTokens, usage.CompletionTokens)
	c.outcome.Usage = usage
	c.outcome.Cost = cost
	if premium := o.tiers[router.TierPremium]; len(premium) > 0 {
		c.outcome.Baseline = o.registry.CostOrZero(premium[0].Model, usage.PromptTokens, usage.CompletionTokens)
	}
	return usage, cost
}

// run walks the candidates in order. try returns nil on success; a non-nil
// error with final set is returned without retry or fallback.
func (o *Orchestrator) run(ctx context.Context, c *call, cands []Candidate, try func(Candidate) (err *llm.Error, final bool)) *llm.Error {
	var last *llm.Error
	for i, cand := range cands {
		if i > 0 {
			if !o.policy.Fallback {
				break
			}
			c.outcome.Fallbacks++
			o.logger.Warn("falling back",
				"request_id", c.outcome.RequestID,
				"from", cands[i-1].String(),
				"to", cand.String(),
				"kind", last.Kind,
			)
		}
		c.outcome.Provider, c.outcome.Model = cand.Provider, cand.Model

		for n := 0; n < o.policy.MaxAttempts; n++ {
			if n > 0 {
				delay := o.policy.Backoff(n - 1)
				o.logger.Info("retrying",
					"request_id", c.outcome.RequestID,
					"candidate", cand.String(),
					"attempt", n+1,
					"delay", delay,
				)
				if err := o.sleep(ctx, delay); err != nil {
					return llm.ClassifyError(err, cand.Provider, cand.Model)
				}
			}

			c.outcome.Attempts++
			err, final := try(cand)
			if err == nil {
				return nil
			}
			last = err
			o.logger.Warn("attempt failed",
				"request_id", c.outcome.RequestID,
				"candidate", cand.String(),
				"attempt", n+1,
				"kind", err.Kind,
				"retryable", err.Retryable,
			)
			if final || !err.Retryable || ctx.Err() != nil {
				return err
			}
		}
	}
	return last
}

// =============================================================================
// CHAT
// =============================================================================

// Chat classifies opts, picks the first available candidate for the
// recommended tier and sends the request, retrying and falling back
// according to the policy. Every error is an *llm.Error.
func (o *Orchestrator) Chat(ctx context.Context, opts llm.RequestOptions) (*llm.Response, error) {
	c := o.begin(opts, false)
	cands := o.candidates(c.class.Tier)
	if len(cands) == 0 {
		err := o.noAdapter(c.class.Tier)
		o.finish(ctx, c, err)
		return nil, err
	}

	var resp *llm.Response
	err := o.run(ctx, c, cands, func(cand Candidate) (*llm.Error, bool) {
		r, err := o.adapters[cand.Provider].Chat(ctx, opts, cand.Model)
		if err != nil {
			return llm.ClassifyError(err, cand.Provider, cand.Model), false
		}
		if r == nil {
			return llm.NewError(llm.KindProviderError, cand.Provider, cand.Model, "adapter returned no response", nil), true
		}
		resp = r
		return nil, false
	})
	if err != nil {
		o.finish(ctx, c, err)
		return nil, err
	}

	var completion strings.Builder
	completion.WriteString(resp.Content)
	for _, tc := range resp.ToolCalls {
		completion.WriteString(tc.Arguments)
	}
	resp.Usage, resp.EstimatedCost = o.settle(c, completion.String(), &resp.Usage)
	if resp.Provider == "" {
		resp.Provider = c.outcome.Provider
	}
	if resp.Model == "" {
		resp.Model = c.outcome.Model
	}
	o.finish(ctx, c, nil)
	return resp, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamChat is the streaming form of Chat. Nothing happens until the
// stream is iterated. A candidate is retried or abandoned for the next one
// only while no event has reached the consumer; once content or a tool
// call has been yielded, a failure is passed through as the final event.
func (o *Orchestrator) StreamChat(ctx context.Context, opts llm.RequestOptions) llm.Stream {
	var used atomic.Bool
	return func(yield func(llm.StreamEvent) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(llm.ErrorEvent(llm.NewError(llm.KindProviderError, "", "",
				llm.ErrStreamConsumed.Error(), llm.ErrStreamConsumed)))
			return
		}

		c := o.begin(opts, true)
		cands := o.candidates(c.class.Tier)
		if len(cands) == 0 {
			err := o.noAdapter(c.class.Tier)
			o.finish(ctx, c, err)
			yield(llm.ErrorEvent(err))
			return
		}

		var content strings.Builder
		args := map[string]string{}
		var done llm.StreamEvent
		stopped := false

		err := o.run(ctx, c, cands, func(cand Candidate) (*llm.Error, bool) {
			yielded := false
			var terminal *llm.StreamEvent
			for ev := range o.adapters[cand.Provider].StreamChat(ctx, opts, cand.Model) {
				if ev.Terminal() {
					terminal = &ev
					break
				}
				switch ev.Type {
				case llm.EventContent:
					content.WriteString(ev.Content)
				case llm.EventToolCall:
					if ev.ToolCall != nil {
						args[ev.ToolCall.ID] = ev.ToolCall.Arguments
					}
				}
				yielded = true
				if !yield(ev) {
					stopped = true
					return nil, true
				}
			}

			switch {
			case terminal == nil:
				return llm.NewError(llm.KindProviderError, cand.Provider, cand.Model,
					"stream ended without a terminal event", nil), yielded
			case terminal.Type == llm.EventDone:
				done = *terminal
				return nil, false
			case terminal.Err == nil:
				return llm.NewError(llm.KindProviderError, cand.Provider, cand.Model, "stream failed", nil), yielded
			default:
				return terminal.Err, yielded
			}
		})

		completion := content.String()
		for _, a := range args {
			completion += a
		}

		switch {
		case err != nil:
			o.finish(ctx, c, err)
			yield(llm.ErrorEvent(err))
		case stopped:
			c.outcome.Abandoned = true
			o.settle(c, completion, nil)
			o.finish(ctx, c, nil)
		default:
			usage, cost := o.settle(c, completion, done.Usage)
			done.Usage = &usage
			done.EstimatedCost = cost
			if done.Provider == "" {
				done.Provider = c.outcome.Provider
			}
			if done.Model == "" {
				done.Model = c.outcome.Model
			}
			o.finish(ctx, c, nil)
			yield(done)
		}
	}
}
