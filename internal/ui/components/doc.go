// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides reusable UI components for the grid-tui chat
// client: the streaming spinner, the status bar and the tool approval dialog.
package components
