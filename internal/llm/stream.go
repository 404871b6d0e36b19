// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"fmt"
	"sync/atomic"
)

// Producer drives one vendor stream. It yields only content and tool_call
// events and returns when the vendor stream ends. A non-nil Usage with a
// nil error becomes the done event; a non-nil error becomes the error
// event. When yield returns false the producer must return promptly; the
// returned values are then ignored.
type Producer func(yield func(StreamEvent) bool) (*Usage, error)

// StreamInfo names the call a stream belongs to.
type StreamInfo struct {
	Provider string
	Model    string
	// Cost, when set, prices the final usage for the done event.
	Cost func(Usage) float64
}

// NewStream wraps a producer so that the consumer sees exactly one terminal
// event, vendor failures arrive as classified error events and the stream
// can be iterated once.
func NewStream(info StreamInfo, produce Producer) Stream {
	var used atomic.Bool
	return func(yield func(StreamEvent) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(ErrorEvent(NewError(KindProviderError, info.Provider, info.Model,
				ErrStreamConsumed.Error(), ErrStreamConsumed)))
			return
		}

		stopped := false
		guard := func(ev StreamEvent) bool {
			if stopped || ev.Terminal() {
				// Terminal events belong to the wrapper.
				return !stopped
			}
			if !yield(ev) {
				stopped = true
			}
			return !stopped
		}

		usage, err := runProducer(produce, guard)
		if stopped {
			return
		}
		if err != nil {
			yield(ErrorEvent(ClassifyError(err, info.Provider, info.Model)))
			return
		}

		done := StreamEvent{Type: EventDone, Provider: info.Provider, Model: info.Model}
		if usage != nil {
			u := usage.Normalize()
			done.Usage = &u
			if info.Cost != nil {
				done.EstimatedCost = info.Cost(u)
			}
		}
		yield(done)
	}
}

// runProducer converts a producer panic into an error so the stream still
// terminates with a single event.
func runProducer(produce Producer, yield func(StreamEvent) bool) (usage *Usage, err error) {
	defer func() {
		if r := recover(); r != nil {
			usage = nil
			err = fmt.Errorf("stream producer panic: %v", r)
		}
	}()
	return produce(yield)
}

// ErrorEvent returns an error event for err.
func ErrorEvent(err *Error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err, Provider: err.Provider, Model: err.Model}
}

// ErrorStream returns a stream holding a single error event.
func ErrorStream(err *Error) Stream {
	return NewStream(StreamInfo{Provider: err.Provider, Model: err.Model},
		func(func(StreamEvent) bool) (*Usage, error) { return nil, err })
}

// Collect drains a stream into a Response. Content deltas are concatenated
// and the last event seen for each tool call id wins. The returned error is
// the stream's error event, if any.
func Collect(s Stream) (*Response, error) {
	resp := &Response{FinishReason: FinishStop}
	index := map[string]int{}
	var content []byte
	for ev := range s {
		switch ev.Type {
		case EventContent:
			content = append(content, ev.Content...)
		case EventToolCall:
			if ev.ToolCall == nil {
				continue
			}
			if i, ok := index[ev.ToolCall.ID]; ok {
				resp.ToolCalls[i] = *ev.ToolCall
				continue
			}
			index[ev.ToolCall.ID] = len(resp.ToolCalls)
			resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
		case EventDone:
			resp.Provider, resp.Model = ev.Provider, ev.Model
			resp.EstimatedCost = ev.EstimatedCost
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}
		case EventError:
			resp.Content = string(content)
			resp.FinishReason = FinishError
			if ev.Err == nil {
				return resp, NewError(KindProviderError, ev.Provider, ev.Model, "stream failed", nil)
			}
			return resp, ev.Err
		}
	}
	resp.Content = string(content)
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = FinishToolCalls
	}
	return resp, nil
}
