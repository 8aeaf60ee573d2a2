// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefinitionValid(t *testing.T) {
	def := json.RawMessage(`{
		"version": "0.1",
		"type": "container",
		"ops": [
			{"type": "container/run", "id": "serve", "args": {"image": "ghcr.io/acme/tgi:latest"}}
		]
	}`)

	r := ValidateDefinition(def)
	require.True(t, r.Success)
	require.Empty(t, r.Errors)
}

func TestValidateDefinitionCollectsAllFailures(t *testing.T) {
	def := json.RawMessage(`{
		"type": "batch",
		"ops": [
			{"type": "", "id": "", "args": null}
		]
	}`)

	r := ValidateDefinition(def)
	require.False(t, r.Success)

	paths := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		paths = append(paths, e.Path)
	}
	require.Contains(t, paths, "version")
	require.Contains(t, paths, "type")
	require.Contains(t, paths, "ops[0].type")
	require.Contains(t, paths, "ops[0].id")
	require.Contains(t, paths, "ops[0].args")
}

func TestValidateDefinitionNotAnObject(t *testing.T) {
	r := ValidateDefinition(json.RawMessage(`"just a string"`))
	require.False(t, r.Success)
	require.Len(t, r.Errors, 1)
	require.Equal(t, "invalid_type", r.Errors[0].Code)
}

func TestValidateDefinitionEmpty(t *testing.T) {
	r := ValidateDefinition(nil)
	require.False(t, r.Success)
	require.Len(t, r.Errors, 1)
	require.Equal(t, "required", r.Errors[0].Code)
}

func TestValidationResultError(t *testing.T) {
	r := ValidationResult{
		Success: false,
		Errors: []ValidationError{
			{Path: "version", Message: "version is required", Code: "required"},
			{Path: "ops", Message: "at least one op is required", Code: "too_small"},
		},
	}
	msg := r.Error()
	require.Contains(t, msg, "version: version is required [required]")
	require.Contains(t, msg, "ops: at least one op is required [too_small]")
}

func TestServiceURLKeyVariants(t *testing.T) {
	cases := []struct {
		name   string
		result string
		want   string
	}{
		{"top level camel", `{"jobDetails":{"serviceUrl":"https://a.example"}}`, "https://a.example"},
		{"top level snake", `{"jobDetails":{"service_url":"https://b.example"}}`, "https://b.example"},
		{"nested camel", `{"jobDetails":{"jobResponse":{"serviceUrl":"https://c.example"}}}`, "https://c.example"},
		{"nested snake", `{"jobDetails":{"jobResponse":{"service_url":"https://d.example"}}}`, "https://d.example"},
		{"unwrapped", `{"serviceUrl":"https://e.example"}`, "https://e.example"},
		{"absent", `{"jobDetails":{}}`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ServiceURL(json.RawMessage(tc.result)))
		})
	}
}

func TestExplorerURL(t *testing.T) {
	explicit := json.RawMessage(`{"jobDetails":{"explorerUrl":"https://x.example/jobs/abc"}}`)
	require.Equal(t, "https://x.example/jobs/abc", ExplorerURL("", explicit, "abc"))

	empty := json.RawMessage(`{}`)
	require.Equal(t, "https://explorer.test/jobs/j1", ExplorerURL("https://explorer.test", empty, "j1"))
	require.Equal(t, "https://explorer.test", ExplorerURL("https://explorer.test", empty, ""))
	require.Equal(t, DefaultExplorerURL, ExplorerURL("", empty, ""))
}

func TestTestGenerationCurl(t *testing.T) {
	require.Empty(t, TestGenerationCurl("huggingface", false))
	require.Empty(t, TestGenerationCurl("ollama", true))

	snippet := TestGenerationCurl("huggingface", true)
	require.Contains(t, snippet, "curl -s -X POST <service_url>/generate")
	require.Contains(t, snippet, `-d '{"inputs": "hi"}'`)
}
