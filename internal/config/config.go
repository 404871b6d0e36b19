// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-router/internal/logging"
	"github.com/jeranaias/rigrun-router/internal/models"
	"github.com/jeranaias/rigrun-router/internal/orchestrator"
	"github.com/jeranaias/rigrun-router/internal/router"
	"github.com/jeranaias/rigrun-router/internal/util"
)

// Provider names accepted in [providers.*] and tier entries.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

// Providers lists every known provider name.
var Providers = []string{ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter, ProviderOllama}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete router configuration.
type Config struct {
	Logging   logging.Config      `toml:"logging"`
	Retry     RetryConfig         `toml:"retry"`
	Providers ProvidersConfig     `toml:"providers"`
	Tiers     map[string][]string `toml:"tiers,omitempty"` // tier -> "provider:model" in priority order
	Models    []models.Entry      `toml:"models,omitempty"`
	Usage     UsageConfig         `toml:"usage"`
}

// RetryConfig mirrors orchestrator.Policy in file-friendly units.
type RetryConfig struct {
	MaxAttempts int  `toml:"max_attempts"`
	BaseDelayMs int  `toml:"base_delay_ms"`
	MaxDelayMs  int  `toml:"max_delay_ms"`
	Fallback    bool `toml:"fallback"`
}

// ProvidersConfig holds one section per provider.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `toml:"openai"`
	Anthropic  ProviderConfig `toml:"anthropic"`
	OpenRouter ProviderConfig `toml:"openrouter"`
	Ollama     ProviderConfig `toml:"ollama"`
}

// ProviderConfig configures one adapter.
type ProviderConfig struct {
	// APIKey is the vendor credential. Unused by ollama.
	APIKey string `toml:"api_key,omitempty"`
	// BaseURL overrides the vendor endpoint (empty = vendor default)
	BaseURL string `toml:"base_url,omitempty"`
	// TimeoutSeconds bounds non-streaming requests (0 = adapter default)
	TimeoutSeconds int `toml:"timeout_seconds,omitempty"`
	// RequestsPerMinute throttles outgoing calls (0 = unlimited)
	RequestsPerMinute int `toml:"requests_per_minute,omitempty"`
	// Enabled turns the adapter on. Cloud adapters also need a key.
	Enabled bool `toml:"enabled"`
}

// Timeout returns TimeoutSeconds as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// UsageConfig controls the usage ledger.
type UsageConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"` // empty = ~/.rigrun/usage.db
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration. Cloud providers are enabled
// and become usable once a key is set; ollama must be enabled explicitly.
func Default() *Config {
	policy := orchestrator.DefaultPolicy()
	return &Config{
		Logging: logging.Config{Level: "info", Format: "text"},
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelayMs: int(policy.BaseDelay / time.Millisecond),
			MaxDelayMs:  int(policy.MaxDelay / time.Millisecond),
			Fallback:    policy.Fallback,
		},
		Providers: ProvidersConfig{
			OpenAI:     ProviderConfig{Enabled: true},
			Anthropic:  ProviderConfig{Enabled: true},
			OpenRouter: ProviderConfig{Enabled: true},
			Ollama:     ProviderConfig{BaseURL: "http://127.0.0.1:11434"},
		},
		Usage: UsageConfig{Enabled: true},
	}
}

// SetDefaults fills zero values left by a partial file.
func (c *Config) SetDefaults() {
	def := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = def.Retry.MaxDelayMs
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = def.Providers.Ollama.BaseURL
	}
	if c.Usage.Path == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Usage.Path = filepath.Join(dir, "usage.db")
		}
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.rigrun.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun"), nil
}

// ConfigPath returns the file Load reads when given no path: RIGRUN_CONFIG
// if set, otherwise ~/.rigrun/router.toml.
func ConfigPath() (string, error) {
	if p := os.Getenv("RIGRUN_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "router.toml"), nil
}

// ensureSecurePermissions narrows a config file to 0600 since it may hold
// API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads path, or ConfigPath when path is empty. A missing file yields
// the defaults. Environment overrides are applied last, then the result is
// validated.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	// Permissions are best effort; some filesystems refuse chmod.
	_ = ensureSecurePermissions(path)

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigrun router configuration\n")
	buf.WriteString("# Generated by rigrun-router - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// ApplyEnvOverrides applies the RIGRUN_* and vendor key variables.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Providers.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Providers.OpenRouter.APIKey = key
	}

	// RIGRUN_OLLAMA_URL also enables the local adapter
	if u := os.Getenv("RIGRUN_OLLAMA_URL"); u != "" {
		c.Providers.Ollama.BaseURL = u
		c.Providers.Ollama.Enabled = true
	}

	if level := os.Getenv("RIGRUN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("RIGRUN_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if v := os.Getenv("RIGRUN_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("RIGRUN_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Retry.Fallback = b
		}
	}

	if p := os.Getenv("RIGRUN_USAGE_DB"); p != "" {
		c.Usage.Path = p
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		add("logging.format", "must be text or json")
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		add("retry.max_attempts", "must be between 1 and 10, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelayMs < 0 {
		add("retry.base_delay_ms", "must not be negative")
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		add("retry.max_delay_ms", "must be at least base_delay_ms")
	}

	for name, p := range c.Providers.byName() {
		field := "providers." + name
		if p.BaseURL != "" {
			u, err := url.Parse(p.BaseURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(field+".base_url", "must be an http or https URL")
			}
		}
		if p.TimeoutSeconds < 0 {
			add(field+".timeout_seconds", "must not be negative")
		}
		if p.RequestsPerMinute < 0 {
			add(field+".requests_per_minute", "must not be negative")
		}
	}

	if _, err := c.TierOrderings(); err != nil {
		var verrs ValidateErrors
		if errors.As(err, &verrs) {
			errs = append(errs, verrs...)
		}
	}

	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			add(field+".id", "is required")
		}
		if !knownProvider(m.Provider) {
			add(field+".provider", "unknown provider %q", m.Provider)
		}
		if m.PromptPerMillion < 0 || m.CompletionPerMillion < 0 {
			add(field, "prices must not be negative")
		}
	}

	if c.Usage.Enabled && c.Usage.Path == "" {
		add("usage.path", "is required when usage is enabled")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func knownProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

func (p ProvidersConfig) byName() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderOpenAI:     p.OpenAI,
		ProviderAnthropic:  p.Anthropic,
		ProviderOpenRouter: p.OpenRouter,
		ProviderOllama:     p.Ollama,
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// Policy converts the retry section.
func (c *Config) Policy() orchestrator.Policy {
	return orchestrator.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
		Fallback:    c.Retry.Fallback,
	}
}

// TierOrderings parses [tiers]. Each entry is "provider:model"; the model
// may itself contain colons. Tiers absent from the file are absent from
// the result, so the orchestrator keeps its default for them.
func (c *Config) TierOrderings() (map[router.Tier][]orchestrator.Candidate, error) {
	var errs ValidateErrors
	out := make(map[router.Tier][]orchestrator.Candidate, len(c.Tiers))
	for name, entries := range c.Tiers {
		field := "tiers." + name
		tier, err := router.ParseTier(name)
		if err != nil {
			errs = append(errs, ValidationError{field, "unknown tier"})
			continue
		}
		for _, e := range entries {
			provider, model, ok := strings.Cut(e, ":")
			if !ok || model == "" {
				errs = append(errs, ValidationError{field, fmt.Sprintf("%q is not provider:model", e)})
				continue
			}
			if !knownProvider(provider) {
				errs = append(errs, ValidationError{field, fmt.Sprintf("unknown provider %q", provider)})
				continue
			}
			out[tier] = append(out[tier], orchestrator.Candidate{Provider: provider, Model: model})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// Registry builds the model registry: the embedded catalog plus [[models]].
// Rows in the file replace catalog rows with the same id.
func (c *Config) Registry() (*models.Registry, error) {
	reg, err := models.Default()
	if err != nil {
		return nil, err
	}
	if len(c.Models) == 0 {
		return reg, nil
	}
	extra := make([]models.ModelConfig, len(c.Models))
	for i, e := range c.Models {
		extra[i] = e.Config()
	}
	return reg.Merge(extra)
}
