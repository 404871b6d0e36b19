// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-router/internal/config"
	"github.com/jeranaias/rigrun-router/internal/models"
	"github.com/jeranaias/rigrun-router/internal/util"
)

// =============================================================================
// MODELS
// =============================================================================

func modelsCmd(a *app) *cobra.Command {
	var (
		provider string
		local    bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models and prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				return a.listLocalModels(cmd)
			}

			var list []models.ModelConfig
			if provider != "" {
				list = a.registry.ByProvider(provider)
			} else {
				list = a.registry.All()
			}
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), list)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\t$/M PROMPT\t$/M COMPLETION\tMAX OUTPUT")
			for _, m := range list {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%d\n", m.Provider, m.ID,
					m.PricePerPromptToken*1e6, m.PricePerCompletionToken*1e6, m.MaxOutputTokens)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Only list models of this provider")
	cmd.Flags().BoolVar(&local, "local", false, "List models installed on the Ollama server instead")
	return cmd
}

func (a *app) listLocalModels(cmd *cobra.Command) error {
	installed, err := a.ollamaClient().ListModels(cmd.Context())
	if err != nil {
		return err
	}
	if a.jsonOut {
		return a.printJSON(cmd.OutOrStdout(), installed)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSIZE (MB)\tMODIFIED\tCATALOG")
	for _, m := range installed {
		_, known := a.registry.Lookup(m.Name)
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", m.Name, m.Size/(1<<20), m.ModifiedAt.Format(time.DateOnly), known)
	}
	return w.Flush()
}

// =============================================================================
// VALIDATE
// =============================================================================

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check each enabled provider's credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := a.orchestrator(false)
			if err != nil {
				return err
			}
			results := orch.ValidateKeys(cmd.Context())
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), results)
			}

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, name := range names {
				status := "ok"
				if !results[name] {
					status = "rejected or not configured"
				}
				fmt.Fprintf(w, "%s\t%s\n", name, status)
			}
			return w.Flush()
		},
	}
}

// =============================================================================
// USAGE
// =============================================================================

func usageCmd(a *app) *cobra.Command {
	var (
		since  time.Duration
		recent int
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize recorded calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLedger()
			if err != nil {
				return err
			}

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			sum, err := l.Summarize(cmd.Context(), from)
			if err != nil {
				return err
			}

			if recent > 0 {
				rows, err := l.Recent(cmd.Context(), recent)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(cmd.OutOrStdout(), rows)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tTIER\tPROVIDER:MODEL\tTOKENS\tCOST\tERROR")
				for _, o := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s:%s\t%d\t$%.6f\t%s\n", o.Time.Format(time.DateTime),
						o.Tier, o.Provider, o.Model, o.Usage.TotalTokens, o.Cost, o.ErrKind)
				}
				return w.Flush()
			}

			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), sum)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tCALLS\tFAILED\tPROMPT\tCOMPLETION\tCOST")
			for _, r := range sum.Rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t$%.6f\n",
					r.Provider, r.Model, r.Calls, r.Failed, r.PromptTokens, r.CompletionTokens, r.Cost)
			}
			t := sum.Totals
			fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t%d\t$%.6f\n", t.Calls, t.Failed, t.PromptTokens, t.CompletionTokens, t.Cost)
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved vs premium: $%.6f\n", sum.Saved)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Only include calls newer than this (0 = all)")
	cmd.Flags().IntVar(&recent, "recent", 0, "List the N most recent calls instead of the summary")
	return cmd
}

// =============================================================================
// CONFIG
// =============================================================================

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with keys masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *a.cfg
			shown.Providers.OpenAI.APIKey = util.MaskSecret(shown.Providers.OpenAI.APIKey)
			shown.Providers.Anthropic.APIKey = util.MaskSecret(shown.Providers.Anthropic.APIKey)
			shown.Providers.OpenRouter.APIKey = util.MaskSecret(shown.Providers.OpenRouter.APIKey)
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), shown)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(shown)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
