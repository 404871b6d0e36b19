// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import "context"

// Adapter is implemented once per vendor. Chat returns errors as *Error
// only. StreamChat never returns a nil stream; failures to connect are
// delivered as the stream's error event.
type Adapter interface {
	// Name is the provider key used in tier orderings, e.g. "anthropic".
	Name() string

	// IsAvailable reports whether the adapter holds a usable credential.
	// It must not perform network I/O.
	IsAvailable() bool

	// ValidateAPIKey sends a minimal probe and returns false only when the
	// vendor rejects the credential.
	ValidateAPIKey(ctx context.Context) bool

	Chat(ctx context.Context, opts RequestOptions, model string) (*Response, error)
	StreamChat(ctx context.Context, opts RequestOptions, model string) Stream
}

// KeyRejected reports whether err means the credential itself is bad.
// Rate limits and transport failures do not count.
func KeyRejected(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err, "", "").Kind == KindInvalidAPIKey
}
