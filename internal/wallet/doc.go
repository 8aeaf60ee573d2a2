// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wallet holds the user's grid credential: a wallet public key or an
// API key. The credential gates every side-effecting job operation; the
// provider can acquire one interactively when none is stored yet.
package wallet
