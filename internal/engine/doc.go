// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine owns the request/response lifecycle of a conversation turn:
// it opens the event stream, routes typed events into buffered state, batches
// token updates for the presentation layer, runs the human-in-the-loop
// approval flow for side-effecting job operations, and commits the finished
// turn to the conversation log.
//
// All collaborators (conversation log, thread store, job client, credential
// provider, settings) are injected; the engine holds no global state and can
// be exercised end to end against an httptest server.
package engine
