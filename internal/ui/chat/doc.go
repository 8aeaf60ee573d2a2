// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the main chat screen: a scrollback of committed
// turns, the live streaming view fed by the engine's flush ticks, the query
// input and the tool approval overlay.
package chat
