// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rigrun-router",
		Short: "Route chat requests to the cheapest capable model",
		Long: `rigrun-router classifies a prompt, recommends a cost tier and sends the
request to the first available provider for that tier, retrying and falling
back on transient failures.

Configuration is read from ~/.rigrun/router.toml (or --config / RIGRUN_CONFIG).
API keys may also come from OPENAI_API_KEY, ANTHROPIC_API_KEY and
OPENROUTER_API_KEY.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file path (default ~/.rigrun/router.toml)")
	cmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Output as JSON")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddGroup(
		&cobra.Group{ID: "routing", Title: "Routing:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	for _, c := range []*cobra.Command{classifyCmd(a), routeCmd(a), chatCmd(a), costCmd(a)} {
		c.GroupID = "routing"
		cmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{modelsCmd(a), validateCmd(a), usageCmd(a), configCmd(a)} {
		c.GroupID = "admin"
		cmd.AddCommand(c)
	}
	return cmd
}
