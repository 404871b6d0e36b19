// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// MaxResponseSize caps how much of a non-streaming body is read.
const MaxResponseSize = 10 * 1024 * 1024

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("response exceeds 10MB")

// NewHTTPClient returns a pooled client that requires TLS 1.2 or newer.
// A zero timeout leaves the deadline to the request context, which is what
// streaming calls need.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// ReadBody reads at most MaxResponseSize bytes. A longer body fails with
// ErrResponseTooLarge instead of being silently truncated.
func ReadBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// DecodeJSON reads a capped body into v.
func DecodeJSON(r io.Reader, v any) error {
	body, err := ReadBody(r)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// vendorError covers the error envelopes used by OpenAI, OpenRouter,
// Anthropic and Ollama.
type vendorError struct {
	Error json.RawMessage `json:"error"`
}

type vendorErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// StatusErrorFrom drains a non-2xx response into a StatusError, pulling
// the vendor message out of the body when it parses.
func StatusErrorFrom(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	se := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}

	var env vendorError
	if json.Unmarshal(body, &env) != nil || len(env.Error) == 0 {
		if se.Body == "" {
			se.Body = http.StatusText(resp.StatusCode)
		}
		return se
	}

	var detail vendorErrorDetail
	if json.Unmarshal(env.Error, &detail) == nil && detail.Message != "" {
		se.Body = detail.Message
		switch {
		case detail.Type != "":
			se.Code = detail.Type
		case detail.Code != nil:
			se.Code = fmt.Sprint(detail.Code)
		}
		return se
	}

	var msg string
	if json.Unmarshal(env.Error, &msg) == nil && msg != "" {
		se.Body = msg
	}
	return se
}

// NewLimiter returns a limiter allowing requestsPerMinute calls, or nil
// when the value is not positive.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// Throttle waits on l if it is non-nil. The limiter refuses up front when
// the wait would outlast the context deadline; that refusal wraps
// context.DeadlineExceeded so it classifies as a retryable timeout.
func Throttle(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	err := l.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("throttle: %w", ctx.Err())
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("throttle: %v: %w", err, context.DeadlineExceeded)
	}
	return fmt.Errorf("throttle: %w", err)
}
