// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package event

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gridchat/grid-tui/internal/model"
	"github.com/gridchat/grid-tui/internal/sse"
)

// =============================================================================
// EVENT VARIANTS
// =============================================================================

// Event is one typed stream event. The concrete type identifies the kind.
type Event interface {
	isEvent()
}

// Thinking carries one reasoning token.
type Thinking struct {
	Text string
}

// Answer carries one answer token.
// Fallback marks tokens recovered from an unparseable payload; their raw
// trimmed text is kept so nothing the model said is silently lost.
type Answer struct {
	Text     string
	Fallback bool
}

// Status is a transient status label ("searching", "deploying", ...).
// Each new Status replaces the previous one.
type Status struct {
	Label string
}

// ThreadTitle is a server-suggested title for the current thread.
type ThreadTitle struct {
	Title string
}

// SearchResults replaces the turn's attached web-search hit list.
type SearchResults struct {
	Results []model.SearchResult
}

// StreamError is a server-reported error for the in-flight turn.
type StreamError struct {
	Message string
}

// ToolExecute is a model-requested side-effecting action awaiting approval.
type ToolExecute struct {
	Call ToolCall
}

// Duration is the server-reported response time in milliseconds.
type Duration struct {
	Millis float64
}

// FollowUps is the list of suggested follow-up questions for the turn.
type FollowUps struct {
	Questions []model.FollowUp
}

// Malformed wraps a record whose payload could not be interpreted.
// The raw text is retained for diagnostics; the record is otherwise dropped.
type Malformed struct {
	EventType string
	Raw       string
}

// Unknown is a record with an unrecognized event type. Ignored.
type Unknown struct {
	EventType string
}

func (Thinking) isEvent()      {}
func (Answer) isEvent()        {}
func (Status) isEvent()        {}
func (ThreadTitle) isEvent()   {}
func (SearchResults) isEvent() {}
func (StreamError) isEvent()   {}
func (ToolExecute) isEvent()   {}
func (Duration) isEvent()      {}
func (FollowUps) isEvent()     {}
func (Malformed) isEvent()     {}
func (Unknown) isEvent()       {}

// =============================================================================
// TOOL CALL PAYLOAD
// =============================================================================

// ToolCall is the decoded payload of a toolExecute record.
type ToolCall struct {
	// Name is the requested function, e.g. "createJob".
	Name string `json:"toolname"`
	// Prompt is the proposed payload shown to the user for approval.
	// For job creation this is the job definition.
	Prompt json.RawMessage `json:"prompt"`
	// Args carries the operation arguments.
	Args ToolArgs `json:"args"`
}

// ToolArgs are the arguments attached to a tool call. Only the fields
// relevant to the requested tool are populated.
type ToolArgs struct {
	MarketPubKey     string  `json:"marketPubKey,omitempty"`
	TimeoutSeconds   float64 `json:"timeoutSeconds,omitempty"`
	JobID            string  `json:"jobId,omitempty"`
	ExtensionSeconds float64 `json:"extensionSeconds,omitempty"`
	Provider         string  `json:"provider,omitempty"`
	TestGeneration   bool    `json:"testGeneration,omitempty"`
}

// =============================================================================
// DECODING
// =============================================================================

// Decode interprets one framed record as a typed event.
//
// Payloads are JSON-parsed where the event kind calls for it, with the raw
// string as fallback for token events. llmResult text survives parse failure
// as a fallback Answer; failures on structured kinds yield Malformed.
func Decode(rec sse.Record) Event {
	switch rec.Event {
	case "thinking":
		text, _ := tokenText(rec.Data)
		return Thinking{Text: text}

	case "llmResult":
		text, fallback := tokenText(rec.Data)
		return Answer{Text: text, Fallback: fallback}

	case "event":
		label, _ := tokenText(rec.Data)
		return Status{Label: label}

	case "threadTitle":
		title, _ := tokenText(rec.Data)
		return ThreadTitle{Title: title}

	case "searchResult":
		var results []model.SearchResult
		if err := json.Unmarshal([]byte(structuredPayload(rec.Data)), &results); err != nil {
			return Malformed{EventType: rec.Event, Raw: rec.Data}
		}
		return SearchResults{Results: results}

	case "error":
		return StreamError{Message: errorText(rec.Data)}

	case "toolExecute":
		var call ToolCall
		if err := json.Unmarshal([]byte(structuredPayload(rec.Data)), &call); err != nil {
			return Malformed{EventType: rec.Event, Raw: rec.Data}
		}
		if call.Name == "" {
			call.Name = "UnknownTool"
		}
		return ToolExecute{Call: call}

	case "Duration":
		ms, err := strconv.ParseFloat(strings.TrimSpace(rec.Data), 64)
		if err != nil {
			return Malformed{EventType: rec.Event, Raw: rec.Data}
		}
		return Duration{Millis: ms}

	default:
		// followUp / followup / FOLLOWUP all match.
		if strings.EqualFold(rec.Event, "followup") {
			var questions []model.FollowUp
			if err := json.Unmarshal([]byte(structuredPayload(rec.Data)), &questions); err != nil {
				return Malformed{EventType: rec.Event, Raw: rec.Data}
			}
			return FollowUps{Questions: questions}
		}
		return Unknown{EventType: rec.Event}
	}
}

// structuredPayload unwraps one layer of string encoding from a payload.
// The backend delivers structured payloads (tool calls, search results,
// follow-ups) as JSON strings holding JSON; bare objects and arrays are
// accepted as-is.
func structuredPayload(data string) string {
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		return s
	}
	return data
}

// tokenText extracts text from a payload that is usually a JSON string but
// may arrive as plain text. Unparseable payloads fall back to the raw
// trimmed text so no token is ever dropped; fallback reports that path so
// the dispatcher can log it.
func tokenText(data string) (text string, fallback bool) {
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		return s, false
	}
	// Numbers and booleans stringify; objects and arrays pass through raw.
	var v any
	if err := json.Unmarshal([]byte(data), &v); err == nil {
		switch v.(type) {
		case map[string]any, []any:
			return data, false
		default:
			if b, err := json.Marshal(v); err == nil {
				return strings.Trim(string(b), `"`), false
			}
		}
	}
	return strings.TrimSpace(data), true
}

// errorText extracts a message from an error payload, which may be a bare
// string or an object with a "message" field.
func errorText(data string) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		return s
	}
	return strings.TrimSpace(data)
}
