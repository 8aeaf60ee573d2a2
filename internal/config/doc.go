// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for grid-tui.
//
// Configuration lives in ~/.gridchat/config.toml with sensible defaults,
// environment variable overrides and validation with clamping.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (GRIDCHAT_*)
//   - ~/.gridchat/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Watch for edits:
//
//	w, _ := config.Watch(path, func(cfg *config.Config) { ... })
//	defer w.Close()
package config
