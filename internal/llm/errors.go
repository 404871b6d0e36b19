// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind is the closed set of failure categories an adapter can report.
type Kind string

const (
	KindRateLimit             Kind = "rate_limit"
	KindInvalidAPIKey         Kind = "invalid_api_key"
	KindQuotaExceeded         Kind = "quota_exceeded"
	KindModelNotFound         Kind = "model_not_found"
	KindContextLengthExceeded Kind = "context_length_exceeded"
	KindContentFilter         Kind = "content_filter"
	KindTimeout               Kind = "timeout"
	KindNetworkError          Kind = "network_error"
	KindProviderError         Kind = "provider_error"
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	KindRateLimit,
	KindInvalidAPIKey,
	KindQuotaExceeded,
	KindModelNotFound,
	KindContextLengthExceeded,
	KindContentFilter,
	KindTimeout,
	KindNetworkError,
	KindProviderError,
}

// Retryable reports whether a retry of the same call may succeed.
// Only rate limits, timeouts and network failures qualify.
func Retryable(k Kind) bool {
	switch k {
	case KindRateLimit, KindTimeout, KindNetworkError:
		return true
	default:
		return false
	}
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrStreamConsumed is the cause reported when a Stream is iterated twice.
var ErrStreamConsumed = errors.New("stream already consumed")

// Error is the only error type that crosses the adapter boundary.
type Error struct {
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Kind       Kind   `json:"code"`
	Retryable  bool   `json:"retryable"`
	StatusCode int    `json:"status_code,omitempty"`
	Cause      error  `json:"-"`
}

// NewError builds an Error whose Retryable flag follows its kind.
func NewError(kind Kind, provider, model, message string, cause error) *Error {
	return &Error{
		Message:   message,
		Provider:  provider,
		Model:     model,
		Kind:      kind,
		Retryable: Retryable(kind),
		Cause:     cause,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		if e.Model != "" {
			b.WriteByte('/')
			b.WriteString(e.Model)
		}
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusError is a non-2xx vendor HTTP response before classification.
type StatusError struct {
	StatusCode int
	Code       string // vendor error code or type, if the body had one
	Body       string // vendor message, or the raw body when it did not parse
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// messagePatterns is evaluated in order; the first kind with a matching
// substring wins.
var messagePatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindContextLengthExceeded, []string{
		"context length", "context_length", "context window", "maximum context",
		"too many tokens", "prompt is too long", "input is too long", "reduce the length",
	}},
	{KindContentFilter, []string{
		"content filter", "content_filter", "content policy", "content_policy",
		"safety system", "flagged", "moderation",
	}},
	{KindRateLimit, []string{
		"rate limit", "rate_limit", "ratelimit", "too many requests", "overloaded",
	}},
	{KindQuotaExceeded, []string{
		"quota", "billing", "insufficient credit", "insufficient_quota",
		"credit balance", "payment required",
	}},
	{KindInvalidAPIKey, []string{
		"invalid api key", "invalid_api_key", "incorrect api key", "invalid x-api-key",
		"authentication", "unauthorized", "permission denied",
	}},
	{KindModelNotFound, []string{
		"model not found", "model_not_found", "unknown model", "no such model",
		"does not exist", "not_found_error",
	}},
	{KindTimeout, []string{
		"timeout", "timed out", "deadline exceeded", "would exceed context deadline",
	}},
	{KindNetworkError, []string{
		"connection refused", "connection reset", "broken pipe", "no such host",
		"network is unreachable", "unexpected eof", "tls handshake",
		"server closed", "dial tcp",
	}},
}

// ClassifyError maps any error to exactly one Kind. The HTTP status is
// consulted first, then typed transport errors, then the message text.
// Unmatched errors become provider_error. A nil error returns nil.
func ClassifyError(err error, provider, model string) *Error {
	if err == nil {
		return nil
	}

	var le *Error
	if errors.As(err, &le) {
		out := *le
		if out.Provider == "" {
			out.Provider = provider
		}
		if out.Model == "" {
			out.Model = model
		}
		return &out
	}

	var se *StatusError
	if errors.As(err, &se) {
		if kind, ok := kindFromStatus(se.StatusCode, se.Code+" "+se.Body); ok {
			e := NewError(kind, provider, model, se.Body, err)
			e.StatusCode = se.StatusCode
			return e
		}
		kind := kindFromMessage(se.Code + " " + se.Body)
		e := NewError(kind, provider, model, se.Body, err)
		e.StatusCode = se.StatusCode
		return e
	}

	if kind, ok := kindFromTransport(err); ok {
		return NewError(kind, provider, model, err.Error(), err)
	}

	return NewError(kindFromMessage(err.Error()), provider, model, err.Error(), err)
}

// IsRetryable classifies err and reports whether its kind is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err, "", "").Retryable
}

func kindFromStatus(status int, body string) (Kind, bool) {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimit, true
	case http.StatusUnauthorized:
		return KindInvalidAPIKey, true
	case http.StatusPaymentRequired, http.StatusForbidden:
		return KindQuotaExceeded, true
	case http.StatusNotFound:
		return KindModelNotFound, true
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout, true
	}
	if strings.Contains(strings.ToLower(body), "billing") {
		return KindQuotaExceeded, true
	}
	return "", false
}

func kindFromTransport(err error) (Kind, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout, true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return KindNetworkError, true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout, true
		}
		return KindNetworkError, true
	}
	return "", false
}

func kindFromMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, group := range messagePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.kind
			}
		}
	}
	return KindProviderError
}
