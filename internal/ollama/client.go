// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/models"
)

const providerName = "ollama"

// ErrNotRunning wraps connection failures to the local server.
var ErrNotRunning = errors.New("ollama is not running")

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Uses an explicit IPv4 address to avoid IPv6 resolution issues on Windows.
	BaseURL string

	// Timeout for non-streaming requests (default: 120s). Local models can
	// be slow to load on first use.
	Timeout time.Duration

	// Enabled marks the server as reachable. There is no credential to check.
	Enabled bool
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://127.0.0.1:11434",
		Timeout: 120 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an llm.Adapter for a local Ollama server.
//
// The Client is thread-safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	registry     *models.Registry
	logger       *slog.Logger
}

var _ llm.Adapter = (*Client)(nil)

// NewClient creates a client. A nil config uses DefaultConfig, which is
// disabled. The registry may be nil.
func NewClient(config *ClientConfig, registry *models.Registry) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	// TLS is not required: Ollama normally listens on loopback over HTTP.
	return &Client{
		config:       &cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		registry:     registry,
		logger:       slog.New(slog.DiscardHandler),
	}
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

// IsAvailable reports whether the server is enabled in configuration.
func (c *Client) IsAvailable() bool {
	return c.config.Enabled
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var buf *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	} else {
		buf = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %w", ErrNotRunning, err)
		}
		return nil, err
	}
	c.logger.Debug("api response", "provider", providerName, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, llm.StatusErrorFrom(resp)
	}
	return resp, nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all models pulled into the server.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, llm.ClassifyError(err, providerName, "")
	}
	defer resp.Body.Close()

	var result listModelsResponse
	if err := llm.DecodeJSON(resp.Body, &result); err != nil {
		return nil, llm.ClassifyError(err, providerName, "")
	}
	return result.Models, nil
}

// ValidateAPIKey probes the server. It returns false only when a proxy in
// front of the server rejects the request as unauthorized; an unreachable
// server does not make the (absent) key invalid.
func (c *Client) ValidateAPIKey(ctx context.Context) bool {
	if !c.IsAvailable() {
		return false
	}
	_, err := c.ListModels(ctx)
	return err == nil || !llm.KeyRejected(err)
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

func (c *Client) disabled(model string) *llm.Error {
	return llm.NewError(llm.KindProviderError, providerName, model, "ollama is not enabled", nil)
}

// Chat sends a non-streaming /api/chat request.
func (c *Client) Chat(ctx context.Context, opts llm.RequestOptions, model string) (*llm.Response, error) {
	if !c.IsAvailable() {
		return nil, c.disabled(model)
	}
	start := time.Now()
	if err := llm.Throttle(ctx, c.limiter); err != nil {
		return nil, llm.ClassifyError(err, providerName, model)
	}

	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/api/chat", buildRequest(opts, model, false))
	if err != nil {
		return nil, llm.ClassifyError(err, providerName, model)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := llm.DecodeJSON(resp.Body, &out); err != nil {
		return nil, llm.ClassifyError(err, providerName, model)
	}
	if out.Error != "" {
		return nil, llm.ClassifyError(&llm.StatusError{StatusCode: resp.StatusCode, Body: out.Error}, providerName, model)
	}

	result := &llm.Response{
		Content:      out.Message.Content,
		Model:        model,
		Provider:     providerName,
		FinishReason: doneReason(out.DoneReason, len(out.Message.ToolCalls) > 0),
		Usage: llm.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
		}.Normalize(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	for i, tc := range out.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, convertToolCall(tc, i))
	}
	result.EstimatedCost = c.registry.CostOrZero(model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}
