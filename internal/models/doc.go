// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models holds the static model catalog and cost estimator.
//
// A Registry is built once at startup, usually with Default followed by
// Merge for models added in config, and then shared read-only:
//
//	reg, err := models.Default()
//	cost, err := reg.EstimateCost("gpt-4o-mini", 1200, 300)
package models
