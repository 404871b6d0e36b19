// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/models"
)

const (
	// DefaultBaseURL is the Anthropic API root.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is sent as the anthropic-version header.
	APIVersion = "2023-06-01"

	// DefaultMaxTokens is used when the request sets no limit. The model's
	// own output limit applies if it is lower.
	DefaultMaxTokens = 4096

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 120 * time.Second

	providerName = "anthropic"
)

// ErrNotConfigured indicates the client has no API key.
var ErrNotConfigured = errors.New("anthropic api key not configured")

// Client is an llm.Adapter for the Anthropic Messages API.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	registry     *models.Registry
	logger       *slog.Logger
}

var _ llm.Adapter = (*Client)(nil)

// New creates a client. The registry supplies prices and output limits;
// it may be nil.
func New(apiKey string, registry *models.Registry) *Client {
	return &Client{
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      DefaultBaseURL,
		httpClient:   llm.NewHTTPClient(DefaultTimeout),
		streamClient: llm.NewHTTPClient(0),
		registry:     registry,
		logger:       slog.New(slog.DiscardHandler),
	}
}

// WithBaseURL sets a custom base URL.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithLimiter throttles outgoing requests.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *Client) Name() string { return providerName }

// IsAvailable returns true if an API key is set.
func (c *Client) IsAvailable() bool {
	return c.apiKey != ""
}

func (c *Client) maxTokens(opts llm.RequestOptions, model string) int {
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		return *opts.MaxTokens
	}
	if c.registry != nil {
		if m, ok := c.registry.Lookup(model); ok && m.MaxOutputTokens > 0 {
			return min(m.MaxOutputTokens, DefaultMaxTokens)
		}
	}
	return DefaultMaxTokens
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", APIVersion)
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("api response", "provider", providerName, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, llm.StatusErrorFrom(resp)
	}
	return resp, nil
}

func (c *Client) notConfigured(model string) *llm.Error {
	return llm.NewError(llm.KindInvalidAPIKey, providerName, model, ErrNotConfigured.Error(), ErrNotConfigured)
}

// ValidateAPIKey lists models, which costs nothing, and returns false only
// when the key is rejected.
func (c *Client) ValidateAPIKey(ctx context.Context) bool {
	if !c.IsAvailable() {
		return false
	}
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/v1/models?limit=1", nil)
	if err != nil {
		return !llm.KeyRejected(err)
	}
	resp.Body.Close()
	return true
}

// Chat sends one Messages request.
func (c *Client) Chat(ctx context.Context, opts llm.RequestOptions, model string) (*llm.Response, error) {
	if !c.IsAvailable() {
		return nil, c.notConfigured(model)
	}
	start := time.Now()
	if err := llm.Throttle(ctx, c.limiter); err != nil {
		return nil, llm.ClassifyError(err, providerName, model)
	}

	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/v1/messages",
		buildRequest(opts, model, c.maxTokens(opts, model), false))
	if err != nil {
		return nil, llm.ClassifyError(err, providerName, model)
	}
	defer resp.Body.Close()

	var out messagesResponse
	if err := llm.DecodeJSON(resp.Body, &out); err != nil {
		return nil, llm.ClassifyError(err, providerName, model)
	}

	result := &llm.Response{
		Model:        model,
		Provider:     providerName,
		FinishReason: stopReason(out.StopReason),
		Usage: llm.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
		}.Normalize(),
		LatencyMs: time.Since(start).Milliseconds(),
	}

	var text strings.Builder
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	result.Content = text.String()
	result.EstimatedCost = c.registry.CostOrZero(model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}
