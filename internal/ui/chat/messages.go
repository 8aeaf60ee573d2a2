// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// Messages delivered from engine callbacks via tea.Program.Send. The engine
// runs its stream loop off the UI goroutine; these carry its signals back
// into the update loop.

// FlushMsg signals that buffered stream tokens were flushed and the live
// view should re-render.
type FlushMsg struct{}

// StatusMsg carries the engine's transient status line ("Thinking...",
// "Searching the web...", empty when idle).
type StatusMsg string

// AlertMsg carries a user-facing notice, e.g. a failed job submission.
type AlertMsg string

// turnDoneMsg reports a finished SubmitTurn call.
type turnDoneMsg struct {
	err error
}

// refreshMsg forces a re-render after an approval decision resolved.
type refreshMsg struct{}
