// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator routes chat requests to provider adapters.
//
// Each request runs the same state machine:
//
//	classify -> recommend tier -> select candidate -> invoke -> success | retry | fail
//
// Candidates for a tier are tried in a fixed order. Unavailable adapters
// are skipped before any attempt is spent. Retryable failures (rate_limit,
// timeout, network_error) are retried with exponential backoff up to
// Policy.MaxAttempts; when those run out the next candidate is tried if
// Policy.Fallback is set. Any other failure ends the request at once.
package orchestrator
