// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/json"

	"github.com/gridchat/grid-tui/internal/event"
)

// =============================================================================
// TOOL KINDS
// =============================================================================

// Supported side-effecting tools.
const (
	ToolCreateJob = "createJob"
	ToolStopJob   = "stopJob"
	ToolExtendJob = "extendJobRuntime"
	ToolUnknown   = "UnknownTool"
)

// Continuation outcome tags fed back to the model.
const (
	OutcomeApproved  = "approved"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// headingFor maps a tool kind to its approval-dialog heading.
func headingFor(tool string) string {
	switch tool {
	case ToolCreateJob:
		return "JOB definition confirmation"
	case ToolStopJob:
		return "confirm JOB stop"
	case ToolExtendJob:
		return "extend JOB runtime confirmation"
	default:
		return "tool confirmation"
	}
}

// supportedTool reports whether a tool kind has an approval flow.
func supportedTool(name string) bool {
	switch name {
	case ToolCreateJob, ToolStopJob, ToolExtendJob:
		return true
	}
	return false
}

// =============================================================================
// PENDING TOOL CALL
// =============================================================================

// PendingToolCall is one outstanding human-approval request. At most one
// exists per session; a newer request overwrites an older one (last wins).
type PendingToolCall struct {
	// Name is the tool kind, e.g. "createJob".
	Name string
	// Heading is the user-facing dialog title.
	Heading string
	// Prompt is the proposed payload (for job creation, the job definition).
	Prompt json.RawMessage
	// Args are the operation arguments from the tool request.
	Args event.ToolArgs
}

// =============================================================================
// APPROVAL STATE MACHINE
// =============================================================================

// Phase is the approval machine state.
type Phase int

const (
	// PhaseIdle: no pending call.
	PhaseIdle Phase = iota
	// PhaseAwaiting: a PendingToolCall is waiting for the user.
	PhaseAwaiting
	// PhaseExecuting: the approved effect is running.
	PhaseExecuting
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaiting:
		return "awaitingApproval"
	case PhaseExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// Approval is the immutable machine state: a phase plus the request it
// refers to (nil in PhaseIdle).
type Approval struct {
	Phase   Phase
	Pending *PendingToolCall
}

// ApprovalMsg is a message sent to the machine.
type ApprovalMsg interface{ isApprovalMsg() }

// Propose installs a new pending call (from a toolExecute record).
type Propose struct{ Call PendingToolCall }

// Confirm is the user's approval.
type Confirm struct{}

// Cancel is the user's refusal.
type Cancel struct{}

// Finished reports that the effect (or the cancellation continuation)
// completed, successfully or not.
type Finished struct{}

func (Propose) isApprovalMsg()  {}
func (Confirm) isApprovalMsg()  {}
func (Cancel) isApprovalMsg()   {}
func (Finished) isApprovalMsg() {}

// Effect is an action the caller must perform after a transition.
type Effect interface{ isEffect() }

// EffectExecute runs the side-effecting operation for the approved call.
type EffectExecute struct{ Call PendingToolCall }

// EffectCancelContinuation reports the user's refusal back to the
// conversation as a cancelled tool-result continuation.
type EffectCancelContinuation struct{ Call PendingToolCall }

// EffectWarnOverwrite notes that a pending call was silently replaced.
// Last-wins overwrite matches observed upstream behavior but is surfaced in
// diagnostics because it may discard a request the user never saw.
type EffectWarnOverwrite struct{ Previous, Next string }

func (EffectExecute) isEffect()            {}
func (EffectCancelContinuation) isEffect() {}
func (EffectWarnOverwrite) isEffect()      {}

// Step applies one message and returns the next state plus the effects to
// perform. Transitions are pure; no side effects happen here.
func (a Approval) Step(msg ApprovalMsg) (Approval, []Effect) {
	switch m := msg.(type) {
	case Propose:
		var effects []Effect
		if a.Phase == PhaseAwaiting && a.Pending != nil {
			effects = append(effects, EffectWarnOverwrite{
				Previous: a.Pending.Name,
				Next:     m.Call.Name,
			})
		}
		call := m.Call
		return Approval{Phase: PhaseAwaiting, Pending: &call}, effects

	case Confirm:
		if a.Phase != PhaseAwaiting || a.Pending == nil {
			return a, nil
		}
		return Approval{Phase: PhaseExecuting, Pending: a.Pending},
			[]Effect{EffectExecute{Call: *a.Pending}}

	case Cancel:
		if a.Phase != PhaseAwaiting || a.Pending == nil {
			return a, nil
		}
		call := *a.Pending
		return Approval{Phase: PhaseIdle},
			[]Effect{EffectCancelContinuation{Call: call}}

	case Finished:
		return Approval{Phase: PhaseIdle}, nil
	}
	return a, nil
}
