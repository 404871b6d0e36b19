// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the router packages.
//
//   - TruncateRunes, Preview: UTF-8 safe truncation for log fields
//   - MaskSecret: display form of an API key
//   - AtomicWriteFile: crash-safe config writes
package util
