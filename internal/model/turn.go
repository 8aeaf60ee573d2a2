// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the author of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleModel:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// TURN STATUS
// =============================================================================

// TurnStatus tags the lifecycle outcome of a turn.
type TurnStatus string

const (
	// StatusMessage is a normally completed turn.
	StatusMessage TurnStatus = "message"
	// StatusError is a turn that ended with a transport, protocol or
	// stream error.
	StatusError TurnStatus = "error"
	// StatusAborted is a turn cancelled by the user mid-stream.
	StatusAborted TurnStatus = "aborted"
)

// =============================================================================
// TURN TYPE
// =============================================================================

// SearchResult is one web search hit attached to a model turn.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// FollowUp is one suggested follow-up question for a model turn.
type FollowUp struct {
	Question string `json:"question"`
}

// Turn is one exchanged message: a user query or a model response.
// A Turn is immutable once committed to a thread.
type Turn struct {
	// Identity
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Status    TurnStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`

	// Content
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`

	// Originating model identifier (model turns only)
	Model string `json:"model,omitempty"`

	// Attachments
	SearchResults []SearchResult `json:"search_results,omitempty"`
	FollowUps     []FollowUp     `json:"follow_ups,omitempty"`

	// ResponseTime is the server-reported generation time in milliseconds.
	ResponseTime float64 `json:"response_time_ms,omitempty"`

	// Collapsed hints the presentation layer to fold the reasoning trace.
	Collapsed bool `json:"collapsed,omitempty"`
}

// NewUserTurn creates a user turn with a generated id.
func NewUserTurn(content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Status:    StatusMessage,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewModelTurn creates a model turn with a generated id.
func NewModelTurn(content, modelID string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleModel,
		Status:    StatusMessage,
		Content:   content,
		Model:     modelID,
		Timestamp: time.Now(),
	}
}

// NewErrorTurn creates a model turn carrying an error outcome.
func NewErrorTurn(content, reasoning, modelID string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleModel,
		Status:    StatusError,
		Content:   content,
		Reasoning: reasoning,
		Model:     modelID,
		Timestamp: time.Now(),
	}
}

// IsEmpty reports whether the turn has no content and no reasoning.
func (t Turn) IsEmpty() bool {
	return strings.TrimSpace(t.Content) == "" && strings.TrimSpace(t.Reasoning) == ""
}

// Preview returns a single-line truncated preview of the turn content.
// Rune-based so multi-byte characters are never split.
func (t Turn) Preview(maxLen int) string {
	content := strings.ReplaceAll(t.Content, "\n", " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// THREAD METADATA
// =============================================================================

// ThreadMeta describes a persisted conversation thread for listing.
type ThreadMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Tool      string    `json:"tool,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}
