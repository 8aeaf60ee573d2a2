// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "github.com/google/uuid"

// NewID returns a random unique identifier string.
func NewID() string {
	return uuid.NewString()
}

// NewPrefixedID returns a random identifier with a type prefix,
// e.g. NewPrefixedID("thread") -> "thread_4f9d...".
func NewPrefixedID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
