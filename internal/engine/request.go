// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxHistoryWindow bounds how many prior turns ride along with a request.
const maxHistoryWindow = 50

// =============================================================================
// WIRE TYPES
// =============================================================================

// SamplingConfig is the model sampling configuration sent with each turn.
type SamplingConfig struct {
	Temperature      float64       `json:"temperature"`
	MaxTokens        int           `json:"max_tokens"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	Context          ContextConfig `json:"context"`
}

// ContextConfig bounds how much conversation history the backend assembles.
type ContextConfig struct {
	AbsoluteMaxTokens int    `json:"absoluteMaxTokens"`
	MaxContextTokens  int    `json:"maxContextTokens"`
	PrevChatLimit     int    `json:"prevChatLimit"`
	TruncateFrom      string `json:"truncateFrom"`
}

// DefaultSampling returns the backend's expected defaults.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{
		Temperature: 0.7,
		MaxTokens:   2000,
		TopP:        1,
		Context: ContextConfig{
			AbsoluteMaxTokens: 5000,
			MaxContextTokens:  3000,
			PrevChatLimit:     6,
			TruncateFrom:      "end",
		},
	}
}

// DeployedModel points a turn at a self-hosted inference endpoint instead of
// the default routing.
type DeployedModel struct {
	BaseURL string `json:"baseURL"`
	Model   string `json:"model"`
}

// chatMeta is the per-turn metadata carried in the history window.
type chatMeta struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	Reasoning string `json:"reasoning,omitempty"`
	Model     string `json:"model,omitempty"`
}

// chatEntry is one prior turn, reduced for transport.
type chatEntry struct {
	Role     string   `json:"role"`
	Content  string   `json:"content"`
	Metadata chatMeta `json:"metadata"`
}

// askRequest is the turn request body.
type askRequest struct {
	Query           string         `json:"query"`
	Model           string         `json:"model"`
	Mode            string         `json:"mode,omitempty"`
	CustomConfig    SamplingConfig `json:"customConfig"`
	WalletPublicKey string         `json:"walletPublicKey,omitempty"`
	Chats           []chatEntry    `json:"chats"`
	CustomPrompt    string         `json:"customPrompt,omitempty"`
	Websearch       bool           `json:"websearch"`
	Thinking        bool           `json:"thinking"`
	ThreadID        string         `json:"threadId,omitempty"`
	ChatID          string         `json:"chatId"`
	DeployedModel   *DeployedModel `json:"deployedModel,omitempty"`
}

// =============================================================================
// ERROR RESPONSE PARSING
// =============================================================================

// requestError is a failed turn request, optionally carrying a per-field
// reasoning trace assembled from backend validation failures.
type requestError struct {
	message   string
	reasoning string
}

// Error implements the error interface.
func (e *requestError) Error() string { return e.message }

// fieldError is one backend validation failure.
type fieldError struct {
	Message string   `json:"message"`
	Path    []string `json:"path"`
	Code    string   `json:"code"`
}

// parseErrorResponse turns a non-2xx body into a requestError. A structured
// validation-error list is aggregated into a single message with one
// reasoning line per field; anything else falls back to a generic error
// carrying the HTTP status.
func parseErrorResponse(status int, statusText string, body []byte) *requestError {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)

	var errorsArray []fieldError
	if len(envelope.Error) > 0 {
		// The error field is either a JSON array or a string-encoded one.
		if err := json.Unmarshal(envelope.Error, &errorsArray); err != nil {
			var encoded string
			if json.Unmarshal(envelope.Error, &encoded) == nil {
				if json.Unmarshal([]byte(encoded), &errorsArray) != nil {
					errorsArray = []fieldError{{Message: encoded, Code: "unknown"}}
				}
			}
		}
	}

	if len(errorsArray) > 0 {
		messages := make([]string, 0, len(errorsArray))
		lines := make([]string, 0, len(errorsArray))
		for _, fe := range errorsArray {
			messages = append(messages, fe.Message)
			path := "(root)"
			if len(fe.Path) > 0 {
				path = strings.Join(fe.Path, ".")
			}
			lines = append(lines, fmt.Sprintf("%s: %s [%s]", path, fe.Message, fe.Code))
		}
		return &requestError{
			message:   strings.Join(messages, "; "),
			reasoning: strings.Join(lines, "\n"),
		}
	}

	return &requestError{
		message: fmt.Sprintf("server error: %d | %s", status, statusText),
	}
}
