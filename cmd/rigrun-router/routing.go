// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-router/internal/llm"
	"github.com/jeranaias/rigrun-router/internal/orchestrator"
	"github.com/jeranaias/rigrun-router/internal/router"
)

func requestFor(prompt, system string) llm.RequestOptions {
	var msgs []llm.ChatMessage
	if system != "" {
		msgs = append(msgs, llm.System(system))
	}
	msgs = append(msgs, llm.User(prompt))
	return llm.RequestOptions{Messages: msgs}
}

func classifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [prompt]",
		Short: "Classify a prompt and show its recommended tier",
		Long:  "Classify a prompt. With no argument, or with -, the prompt is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptText(cmd, args)
			if err != nil {
				return err
			}
			c := router.ClassifyWithTier(prompt)
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), c)
			}
			printClassification(cmd, c)
			return nil
		},
	}
}

func printClassification(cmd *cobra.Command, c router.TieredClassification) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:        %s\n", c.TaskType)
	fmt.Fprintf(out, "Complexity:  %s\n", c.EstimatedComplexity)
	fmt.Fprintf(out, "Tools:       %t\n", c.RequiresTools)
	fmt.Fprintf(out, "JSON mode:   %t\n", c.RequiresJSONMode)
	fmt.Fprintf(out, "Tier:        %s\n", c.Tier)
}

func routeCmd(a *app) *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Show which provider and model would serve a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptText(cmd, args)
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(false)
			if err != nil {
				return err
			}

			d, routeErr := orch.Route(requestFor(prompt, system))
			if a.jsonOut {
				if err := a.printJSON(cmd.OutOrStdout(), d); err != nil {
					return err
				}
				return routeErr
			}

			printClassification(cmd, d.TieredClassification)
			if routeErr != nil {
				return routeErr
			}
			out := cmd.OutOrStdout()
			names := make([]string, len(d.Candidates))
			for i, c := range d.Candidates {
				names[i] = c.String()
			}
			fmt.Fprintf(out, "Candidates:  %s\n", strings.Join(names, ", "))
			fmt.Fprintf(out, "Selected:    %s\n", d.Selected)
			fmt.Fprintf(out, "Prompt:      ~%d tokens, $%.6f\n", d.PromptTokens, d.PromptCost)
			return nil
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	return cmd
}

func chatCmd(a *app) *cobra.Command {
	var (
		system      string
		stream      bool
		maxTokens   int
		temperature float64
	)
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt through the router",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptText(cmd, args)
			if err != nil {
				return err
			}
			orch, err := a.orchestrator(true)
			if err != nil {
				return err
			}
			defer func() {
				a.logger.Debug("session stats", "summary", orch.Stats().Snapshot().Summary())
			}()

			opts := requestFor(prompt, system)
			if cmd.Flags().Changed("max-tokens") {
				opts.MaxTokens = &maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			}

			if stream {
				return a.streamChat(cmd, orch, opts)
			}

			resp, err := orch.Chat(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
			for _, tc := range resp.ToolCalls {
				fmt.Fprintf(cmd.OutOrStdout(), "[tool call %s] %s(%s)\n", tc.ID, tc.Name, tc.Arguments)
			}
			a.printCallFooter(cmd, resp.Provider, resp.Model, resp.Usage, resp.EstimatedCost)
			return nil
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the response as it arrives")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum completion tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	return cmd
}

// streamChat prints content as it arrives. Tool calls are cumulative per
// call id, so only the last snapshot of each is printed.
func (a *app) streamChat(cmd *cobra.Command, orch *orchestrator.Orchestrator, opts llm.RequestOptions) error {
	out := cmd.OutOrStdout()
	var (
		order []string
		calls = make(map[string]llm.ToolCall)
	)

	for ev := range orch.StreamChat(cmd.Context(), opts) {
		if a.jsonOut {
			if err := a.printJSON(out, ev); err != nil {
				return err
			}
		}
		switch ev.Type {
		case llm.EventContent:
			if !a.jsonOut {
				fmt.Fprint(out, ev.Content)
			}
		case llm.EventToolCall:
			if _, seen := calls[ev.ToolCall.ID]; !seen {
				order = append(order, ev.ToolCall.ID)
			}
			calls[ev.ToolCall.ID] = *ev.ToolCall
		case llm.EventDone:
			if a.jsonOut {
				return nil
			}
			fmt.Fprintln(out)
			for _, id := range order {
				tc := calls[id]
				fmt.Fprintf(out, "[tool call %s] %s(%s)\n", tc.ID, tc.Name, tc.Arguments)
			}
			var u llm.Usage
			if ev.Usage != nil {
				u = *ev.Usage
			}
			a.printCallFooter(cmd, ev.Provider, ev.Model, u, ev.EstimatedCost)
			return nil
		case llm.EventError:
			if !a.jsonOut {
				fmt.Fprintln(out)
			}
			return ev.Err
		}
	}
	return nil
}

func (a *app) printCallFooter(cmd *cobra.Command, provider, model string, u llm.Usage, cost float64) {
	estimated := ""
	if u.Estimated {
		estimated = " (estimated)"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "[%s:%s] %d prompt + %d completion tokens%s, $%.6f\n",
		provider, model, u.PromptTokens, u.CompletionTokens, estimated, cost)
}

func costCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cost <model> <prompt-tokens> [completion-tokens]",
		Short: "Price a call against the model catalog",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("prompt tokens: %w", err)
			}
			completion := 0
			if len(args) == 3 {
				if completion, err = strconv.Atoi(args[2]); err != nil {
					return fmt.Errorf("completion tokens: %w", err)
				}
			}

			orch, err := a.orchestrator(false)
			if err != nil {
				return err
			}
			cost, err := orch.EstimateCost(args[0], prompt, completion)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), map[string]any{
					"model":             args[0],
					"prompt_tokens":     prompt,
					"completion_tokens": completion,
					"cost":              cost,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "$%.6f\n", cost)
			return nil
		},
	}
}
