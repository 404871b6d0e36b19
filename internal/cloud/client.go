// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
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

// Configuration constants for OpenAI-compatible APIs.
const (
	// DefaultOpenAIURL is the base URL for the OpenAI API.
	DefaultOpenAIURL = "https://api.openai.com/v1"

	// DefaultOpenRouterURL is the base URL for the OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	userAgent = "rigrun-router/0.3.0"
)

// ErrNotConfigured indicates the client has no API key.
var ErrNotConfigured = errors.New("api key not configured")

// Config describes one OpenAI-compatible endpoint.
type Config struct {
	// Provider is the adapter name, e.g. "openai" or "openrouter".
	Provider string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	// ProbePath is fetched with GET to validate the key.
	ProbePath string
	// SiteURL and SiteName are sent as OpenRouter attribution headers.
	SiteURL  string
	SiteName string
}

// Client is an llm.Adapter for the Chat Completions API.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	registry     *models.Registry
	logger       *slog.Logger
}

var _ llm.Adapter = (*Client)(nil)

// New creates a client. Empty fields in cfg fall back to OpenAI defaults.
// The registry prices responses; it may be nil.
func New(cfg Config, registry *models.Registry) *Client {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = "/models"
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:          cfg,
		httpClient:   llm.NewHTTPClient(cfg.Timeout),
		streamClient: llm.NewHTTPClient(0),
		registry:     registry,
		logger:       slog.New(slog.DiscardHandler),
	}
}

// NewOpenAI creates a client for api.openai.com.
func NewOpenAI(apiKey string, registry *models.Registry) *Client {
	return New(Config{Provider: "openai", APIKey: apiKey}, registry)
}

// NewOpenRouter creates a client for openrouter.ai. OpenRouter's model list
// is public, so the key is probed through /auth/key instead.
func NewOpenRouter(apiKey string, registry *models.Registry) *Client {
	return New(Config{
		Provider:  "openrouter",
		APIKey:    apiKey,
		BaseURL:   DefaultOpenRouterURL,
		ProbePath: "/auth/key",
		SiteURL:   "https://rigrun.local",
		SiteName:  "rigrun",
	}, registry)
}

// WithBaseURL sets a custom base URL.
func (c *Client) WithBaseURL(url string) *Client {
	c.cfg.BaseURL = strings.TrimRight(url, "/")
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.cfg.Timeout = timeout
	c.httpClient.Timeout = timeout
	return c
}

// WithLimiter throttles outgoing requests. Nil disables throttling.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// WithLogger sets the logger for request/response lines.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Name returns the provider key.
func (c *Client) Name() string {
	return c.cfg.Provider
}

// IsAvailable returns true if an API key is set.
func (c *Client) IsAvailable() bool {
	return c.cfg.APIKey != ""
}

// KeyFingerprint returns the first 8 hex chars of the key's SHA-256, for
// logs that must identify a key without exposing it.
func (c *Client) KeyFingerprint() string {
	if c.cfg.APIKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.cfg.APIKey))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// REQUESTS
// =============================================================================

// setHeaders sets the auth and attribution headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	}
	if c.cfg.SiteName != "" {
		req.Header.Set("X-Title", c.cfg.SiteName)
	}
}

// do sends one request. Non-2xx responses are drained into *llm.StatusError.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug("api request failed", "provider", c.cfg.Provider, "path", path, "error", err)
		return nil, err
	}
	c.logger.Debug("api response",
		"provider", c.cfg.Provider,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"key", c.KeyFingerprint())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, llm.StatusErrorFrom(resp)
	}
	return resp, nil
}

func (c *Client) fail(err error, model string) *llm.Error {
	return llm.ClassifyError(err, c.cfg.Provider, model)
}

func (c *Client) notConfigured(model string) *llm.Error {
	return llm.NewError(llm.KindInvalidAPIKey, c.cfg.Provider, model, ErrNotConfigured.Error(), ErrNotConfigured)
}

// ValidateAPIKey probes the endpoint and returns false only on a 401.
func (c *Client) ValidateAPIKey(ctx context.Context) bool {
	if !c.IsAvailable() {
		return false
	}
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, c.cfg.ProbePath, nil)
	if err != nil {
		return !llm.KeyRejected(err)
	}
	resp.Body.Close()
	return true
}

// Chat performs a single chat completion round trip.
func (c *Client) Chat(ctx context.Context, opts llm.RequestOptions, model string) (*llm.Response, error) {
	if !c.IsAvailable() {
		return nil, c.notConfigured(model)
	}
	start := time.Now()
	if err := llm.Throttle(ctx, c.limiter); err != nil {
		return nil, c.fail(err, model)
	}

	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/chat/completions", buildRequest(opts, model, false))
	if err != nil {
		return nil, c.fail(err, model)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := llm.DecodeJSON(resp.Body, &out); err != nil {
		return nil, c.fail(err, model)
	}
	if out.Error != nil {
		return nil, c.fail(out.Error.statusError(), model)
	}
	if len(out.Choices) == 0 {
		return nil, llm.NewError(llm.KindProviderError, c.cfg.Provider, model, "response has no choices", nil)
	}

	choice := out.Choices[0]
	result := &llm.Response{
		Content:      choice.Message.Content,
		Model:        model,
		Provider:     c.cfg.Provider,
		FinishReason: finishReason(choice.FinishReason),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if out.Usage != nil {
		result.Usage = out.Usage.usage()
	}
	result.EstimatedCost = c.registry.CostOrZero(model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

// finishReason maps a Chat Completions finish_reason.
func finishReason(s string) llm.FinishReason {
	switch s {
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	case "content_filter":
		return llm.FinishContentFilter
	case "error":
		return llm.FinishError
	default:
		return llm.FinishStop
	}
}
