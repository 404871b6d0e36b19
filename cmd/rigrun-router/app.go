// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-router/internal/anthropic"
	"github.com/jeranaias/rigrun-router/internal/cloud"
	"github.com/jeranaias/rigrun-router/internal/config"
	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/logging"
	"github.com/jeranaias/rigrun-router/internal/models"
	"github.com/jeranaias/rigrun-router/internal/ollama"
	"github.com/jeranaias/rigrun-router/internal/orchestrator"
	"github.com/jeranaias/rigrun-router/internal/usage"
)

// errUsageDisabled is returned by commands that need the ledger when
// [usage] enabled = false.
var errUsageDisabled = errors.New("usage ledger is disabled in config")

// app holds what the commands share. It is populated by load, which runs
// before every command.
type app struct {
	// flags
	configPath string
	jsonOut    bool
	logLevel   string

	tokens   orchestrator.TokenCounter
	cfg      *config.Config
	logger   *slog.Logger
	registry *models.Registry
	ledger   *usage.Ledger
}

func newApp() *app {
	return &app{tokens: models.NewTokenizer()}
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("model catalog: %w", err)
	}

	a.cfg, a.logger, a.registry = cfg, logger, reg
	return nil
}

func (a *app) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil && a.logger != nil {
			a.logger.Warn("closing usage ledger", "error", err)
		}
		a.ledger = nil
	}
}

func (a *app) openLedger() (*usage.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	if !a.cfg.Usage.Enabled {
		return nil, errUsageDisabled
	}
	l, err := usage.Open(a.cfg.Usage.Path)
	if err != nil {
		return nil, err
	}
	a.ledger = l
	return l, nil
}

// adapters builds one adapter per enabled provider section. Cloud adapters
// without a key are still built; the orchestrator skips them as unavailable.
func (a *app) adapters() []llm.Adapter {
	p := a.cfg.Providers
	var out []llm.Adapter

	if c := p.OpenAI; c.Enabled {
		client := cloud.New(cloud.Config{
			Provider: config.ProviderOpenAI,
			APIKey:   c.APIKey,
			BaseURL:  c.BaseURL,
			Timeout:  c.Timeout(),
		}, a.registry)
		out = append(out, client.
			WithLimiter(llm.NewLimiter(c.RequestsPerMinute)).
			WithLogger(a.logger.With("provider", config.ProviderOpenAI)))
	}

	if c := p.Anthropic; c.Enabled {
		client := anthropic.New(c.APIKey, a.registry)
		if c.BaseURL != "" {
			client.WithBaseURL(c.BaseURL)
		}
		if t := c.Timeout(); t > 0 {
			client.WithTimeout(t)
		}
		out = append(out, client.
			WithLimiter(llm.NewLimiter(c.RequestsPerMinute)).
			WithLogger(a.logger.With("provider", config.ProviderAnthropic)))
	}

	if c := p.OpenRouter; c.Enabled {
		client := cloud.NewOpenRouter(c.APIKey, a.registry)
		if c.BaseURL != "" {
			client.WithBaseURL(c.BaseURL)
		}
		if t := c.Timeout(); t > 0 {
			client.WithTimeout(t)
		}
		out = append(out, client.
			WithLimiter(llm.NewLimiter(c.RequestsPerMinute)).
			WithLogger(a.logger.With("provider", config.ProviderOpenRouter)))
	}

	if c := p.Ollama; c.Enabled {
		out = append(out, a.ollamaClient().
			WithLimiter(llm.NewLimiter(c.RequestsPerMinute)).
			WithLogger(a.logger.With("provider", config.ProviderOllama)))
	}
	return out
}

func (a *app) ollamaClient() *ollama.Client {
	c := a.cfg.Providers.Ollama
	return ollama.NewClient(&ollama.ClientConfig{
		BaseURL: c.BaseURL,
		Timeout: c.Timeout(),
		Enabled: c.Enabled,
	}, a.registry)
}

// orchestrator wires the configured adapters. With record set and the
// ledger enabled, every call is written to the usage database.
func (a *app) orchestrator(record bool) (*orchestrator.Orchestrator, error) {
	tiers, err := a.cfg.TierOrderings()
	if err != nil {
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithPolicy(a.cfg.Policy()),
		orchestrator.WithTiers(tiers),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithTokenizer(a.tokens),
	}
	if record && a.cfg.Usage.Enabled {
		l, err := a.openLedger()
		if err != nil {
			a.logger.Warn("usage ledger unavailable, calls will not be recorded", "error", err)
		} else {
			opts = append(opts, orchestrator.WithRecorder(l))
		}
	}
	return orchestrator.New(a.adapters(), a.registry, opts...), nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// promptText joins args, or reads stdin when there are none or the only
// arg is "-".
func promptText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		args = []string{string(data)}
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", errors.New("empty prompt")
	}
	return text, nil
}
