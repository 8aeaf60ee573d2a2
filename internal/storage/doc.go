// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides thread persistence for grid-tui: an append-only
// turn log per thread plus thread metadata, backed by SQLite.
package storage
