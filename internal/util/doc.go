// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the grid-tui application:
// atomic file writes, rune-safe string truncation, and identifier generation.
package util
