// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs provides the client for the compute-job manager: creating,
// stopping and extending GPU jobs on the grid, plus structural validation of
// job definitions before any side effect is attempted.
package jobs
