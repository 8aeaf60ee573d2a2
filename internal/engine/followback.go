// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CancelFollowUpModel is the fixed lightweight model used to report a
// cancelled tool call back to the conversation.
const CancelFollowUpModel = "openai/qwen3:0.6b"

// cancelledResult is the fixed explanatory payload for a user refusal.
const cancelledResult = "no result as approval cancelled by user itself | ask user what happend? do you want any refinement? show tools remember prev chat and conclude?"

// =============================================================================
// CONTINUATION PROMPTS
// =============================================================================

// JobResultSummary is the machine-readable outcome of a successful job
// creation, fed back to the model. Absent values serialize as null.
type JobResultSummary struct {
	JobID              any `json:"jobId"`
	ServiceURL         any `json:"serviceUrl"`
	ExplorerURL        any `json:"explorerUrl"`
	TestGenerationCurl any `json:"testGenerationCurl"`
}

// NewJobResultSummary builds a summary, mapping empty strings to null.
func NewJobResultSummary(jobID, serviceURL, explorerURL, testCurl string) JobResultSummary {
	return JobResultSummary{
		JobID:              nullable(jobID),
		ServiceURL:         nullable(serviceURL),
		ExplorerURL:        nullable(explorerURL),
		TestGenerationCurl: nullable(testCurl),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FollowBackPrompt synthesizes the continuation query that reports a tool
// call's outcome to the model. result may be a plain string or a structured
// summary; jobDef, when present, is echoed so the model retains the approved
// definition.
func FollowBackPrompt(tool, status string, result any, jobDef json.RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tool call completed: %s | status: %s\n", tool, status)

	switch r := result.(type) {
	case string:
		b.WriteString("result: " + r)
	default:
		encoded, err := json.Marshal(result)
		if err != nil {
			b.WriteString("result: (unavailable)")
		} else {
			b.WriteString("result: " + string(encoded))
		}
	}

	if len(jobDef) > 0 {
		b.WriteString("\njob definition: " + string(jobDef))
	}

	b.WriteString("\nreport this outcome to the user, include any links, and suggest next steps.")
	return b.String()
}
