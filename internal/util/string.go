// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// TruncateRunes truncates s to at most maxRunes characters. If s is cut,
// the last three characters become "...".
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// Preview collapses runs of whitespace, newlines included, to single spaces
// and truncates the result to maxRunes. Used for one-line log fields.
func Preview(s string, maxRunes int) string {
	return TruncateRunes(strings.Join(strings.Fields(s), " "), maxRunes)
}

// MaskSecret hides all but the last four characters of a credential.
// Secrets of eight characters or fewer are hidden entirely.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= 8 {
		return "****"
	}
	return "****" + string(runes[len(runes)-4:])
}
