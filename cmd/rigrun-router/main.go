// rigrun-router routes chat requests across LLM vendors by task tier.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := newApp()
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()

	if err != nil {
		os.Exit(1)
	}
}
