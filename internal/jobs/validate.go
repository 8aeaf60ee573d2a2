// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// JOB DEFINITION VALIDATION
// =============================================================================

// ValidationError is one structural failure in a job definition.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult aggregates all failures found in a definition.
// Validation is exhaustive; it never stops at the first problem.
type ValidationResult struct {
	Success bool              `json:"success"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// Error formats the failures as a single descriptive message.
func (r ValidationResult) Error() string {
	if r.Success {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s [%s]", e.Path, e.Message, e.Code))
	}
	return "invalid job definition: " + strings.Join(parts, "; ")
}

// jobDefinition mirrors the structural shape of a grid job definition.
type jobDefinition struct {
	Version string          `json:"version"`
	Type    string          `json:"type"`
	Meta    json.RawMessage `json:"meta"`
	Ops     []jobOp         `json:"ops"`
}

type jobOp struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Args json.RawMessage `json:"args"`
}

// ValidateDefinition structurally checks a raw job definition and collects
// every failure. A definition that does not parse as a JSON object yields a
// single root-level error.
func ValidateDefinition(raw json.RawMessage) ValidationResult {
	var def jobDefinition
	if len(raw) == 0 {
		return fail(ValidationError{Path: "", Message: "definition is empty", Code: "required"})
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return fail(ValidationError{Path: "", Message: "definition is not a JSON object", Code: "invalid_type"})
	}

	var errs []ValidationError

	if def.Version == "" {
		errs = append(errs, ValidationError{Path: "version", Message: "version is required", Code: "required"})
	}
	if def.Type == "" {
		errs = append(errs, ValidationError{Path: "type", Message: "type is required", Code: "required"})
	} else if def.Type != "container" {
		errs = append(errs, ValidationError{
			Path:    "type",
			Message: fmt.Sprintf("unsupported job type %q", def.Type),
			Code:    "invalid_enum_value",
		})
	}
	if len(def.Ops) == 0 {
		errs = append(errs, ValidationError{Path: "ops", Message: "at least one op is required", Code: "too_small"})
	}

	for i, op := range def.Ops {
		prefix := fmt.Sprintf("ops[%d]", i)
		if op.Type == "" {
			errs = append(errs, ValidationError{Path: prefix + ".type", Message: "op type is required", Code: "required"})
		}
		if op.ID == "" {
			errs = append(errs, ValidationError{Path: prefix + ".id", Message: "op id is required", Code: "required"})
		}
		if len(op.Args) == 0 || string(op.Args) == "null" {
			errs = append(errs, ValidationError{Path: prefix + ".args", Message: "op args are required", Code: "required"})
		}
	}

	if len(errs) > 0 {
		return ValidationResult{Success: false, Errors: errs}
	}
	return ValidationResult{Success: true}
}

func fail(errs ...ValidationError) ValidationResult {
	return ValidationResult{Success: false, Errors: errs}
}
