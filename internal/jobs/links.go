// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import "encoding/json"

// DefaultExplorerURL is the public job explorer.
const DefaultExplorerURL = "https://dashboard.nosana.com"

// =============================================================================
// RESULT LINK EXTRACTION
// =============================================================================

// jobDetails is the variable-shape details object embedded in a create
// result. The service URL has appeared under several keys across manager
// versions, including nested under jobResponse.
type jobDetails struct {
	ServiceURL    string `json:"serviceUrl"`
	ServiceURLAlt string `json:"service_url"`
	ExplorerURL   string `json:"explorerUrl"`
	JobResponse   struct {
		ServiceURL    string `json:"serviceUrl"`
		ServiceURLAlt string `json:"service_url"`
	} `json:"jobResponse"`
}

// details unwraps the create result payload, tolerating both a bare details
// object and one wrapped in {"jobDetails": ...}.
func details(result json.RawMessage) jobDetails {
	var wrapped struct {
		JobDetails json.RawMessage `json:"jobDetails"`
	}
	raw := result
	if err := json.Unmarshal(result, &wrapped); err == nil && len(wrapped.JobDetails) > 0 {
		raw = wrapped.JobDetails
	}

	var d jobDetails
	_ = json.Unmarshal(raw, &d)
	return d
}

// ServiceURL extracts the deployed service endpoint from a create result,
// checking every historical key location. Returns "" when absent.
func ServiceURL(result json.RawMessage) string {
	d := details(result)
	switch {
	case d.ServiceURL != "":
		return d.ServiceURL
	case d.ServiceURLAlt != "":
		return d.ServiceURLAlt
	case d.JobResponse.ServiceURL != "":
		return d.JobResponse.ServiceURL
	case d.JobResponse.ServiceURLAlt != "":
		return d.JobResponse.ServiceURLAlt
	}
	return ""
}

// ExplorerURL returns the explorer page for a created job. The manager's own
// explorerUrl wins when present; otherwise the link is derived from the job
// id, falling back to the explorer root when no id came back.
func ExplorerURL(base string, result json.RawMessage, jobID string) string {
	if base == "" {
		base = DefaultExplorerURL
	}
	if d := details(result); d.ExplorerURL != "" {
		return d.ExplorerURL
	}
	if jobID != "" {
		return base + "/jobs/" + jobID
	}
	return base
}

// TestGenerationCurl returns a copy-pasteable snippet for smoke-testing a
// huggingface text-generation deployment, or "" when the deployment is not
// one.
func TestGenerationCurl(provider string, testGeneration bool) string {
	if provider != "huggingface" || !testGeneration {
		return ""
	}
	return `# You can test your deployment using:
curl -s -X POST <service_url>/generate \
  -H "Content-Type: application/json" \
  -H "Authorization: Bearer <api_key>" \
  -d '{"inputs": "hi"}'`
}
