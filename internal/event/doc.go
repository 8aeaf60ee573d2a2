// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event converts raw stream records into typed events.
//
// Each recognized record kind gets its own event type with a strongly-typed
// payload, so the dispatcher switches on a closed set of variants instead of
// re-inspecting loosely-typed JSON. Payloads that fail to parse surface as an
// explicit Malformed variant rather than a thrown error, except answer tokens
// whose raw text is preserved (token text must never be dropped).
package event
