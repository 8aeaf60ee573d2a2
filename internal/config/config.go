// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete grid-tui configuration.
type Config struct {
	// General settings
	Version      string `toml:"version"`
	DefaultModel string `toml:"default_model"`

	// Server endpoints
	Server ServerConfig `toml:"server"`

	// Model sampling parameters
	Sampling SamplingConfig `toml:"sampling"`

	// Context window assembly
	Context ContextConfig `toml:"context"`

	// Tool (job deployment) settings
	Tools ToolsConfig `toml:"tools"`

	// UI settings
	UI UIConfig `toml:"ui"`
}

// ServerConfig holds the backend endpoints.
type ServerConfig struct {
	// AskURL is the streaming chat endpoint.
	AskURL string `toml:"ask_url"`
	// JobManagerURL is the base URL of the job manager.
	JobManagerURL string `toml:"job_manager_url"`
	// ExplorerURL is the public job explorer base URL.
	ExplorerURL string `toml:"explorer_url"`
	// DeployedServiceURL routes turns to a self-hosted inference endpoint
	// when set.
	DeployedServiceURL string `toml:"deployed_service_url"`
	// DeployedServiceModel is the model name on the deployed service.
	DeployedServiceModel string `toml:"deployed_service_model"`
}

// SamplingConfig holds model sampling parameters.
type SamplingConfig struct {
	// Temperature in [0, 2].
	Temperature float64 `toml:"temperature"`
	// MaxTokens per response.
	MaxTokens int `toml:"max_tokens"`
	// TopP in (0, 1].
	TopP float64 `toml:"top_p"`
	// FrequencyPenalty in [-2, 2].
	FrequencyPenalty float64 `toml:"frequency_penalty"`
	// PresencePenalty in [-2, 2].
	PresencePenalty float64 `toml:"presence_penalty"`
}

// ContextConfig bounds backend context assembly.
type ContextConfig struct {
	AbsoluteMaxTokens int `toml:"absolute_max_tokens"`
	MaxContextTokens  int `toml:"max_context_tokens"`
	PrevChatLimit     int `toml:"prev_chat_limit"`
	// TruncateFrom is "start" or "end".
	TruncateFrom string `toml:"truncate_from"`
}

// ToolsConfig holds job-deployment tool settings.
type ToolsConfig struct {
	// Mode enables the tool flow when non-empty. The backend recognizes
	// the literal "deployer".
	Mode string `toml:"mode"`
	// CredentialPath is the wallet/API key file.
	CredentialPath string `toml:"credential_path"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	// Theme is "dark", "light" or "auto".
	Theme string `toml:"theme"`
	// ShowErrorMessages shows real error text and reasoning traces instead
	// of generic messages.
	ShowErrorMessages bool `toml:"show_error_messages"`
	// CustomPrompt is an optional system prompt sent with each turn.
	CustomPrompt string `toml:"custom_prompt"`
	// Websearch enables web search for turns.
	Websearch bool `toml:"websearch"`
	// Thinking requests reasoning traces.
	Thinking bool `toml:"thinking"`
	// CollapseReasoning folds reasoning traces by default.
	CollapseReasoning bool `toml:"collapse_reasoning"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: "openai/gpt-oss-20b",

		Server: ServerConfig{
			AskURL:        "http://127.0.0.1:3000/api/v2/ask",
			JobManagerURL: "http://127.0.0.1:3000/api/v2",
			ExplorerURL:   "https://dashboard.nosana.com",
		},

		Sampling: SamplingConfig{
			Temperature:      0.7,
			MaxTokens:        2000,
			TopP:             1,
			FrequencyPenalty: 0,
			PresencePenalty:  0,
		},

		Context: ContextConfig{
			AbsoluteMaxTokens: 5000,
			MaxContextTokens:  3000,
			PrevChatLimit:     6,
			TruncateFrom:      "end",
		},

		Tools: ToolsConfig{
			Mode: "deployer",
		},

		UI: UIConfig{
			Theme:             "dark",
			ShowErrorMessages: true,
			Websearch:         false,
			Thinking:          true,
			CollapseReasoning: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the grid-tui configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".gridchat"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// =============================================================================
// LOAD
// =============================================================================

// Load loads configuration from the default path, falling back to defaults
// when no file exists. Environment overrides are applied last, then the
// result is validated and clamped.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path. A missing file
// is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		fillDefaults(cfg)
	}

	cfg.ApplyEnvOverrides()
	cfg.Clamp()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if cfg.Server.AskURL == "" {
		cfg.Server.AskURL = defaults.Server.AskURL
	}
	if cfg.Server.JobManagerURL == "" {
		cfg.Server.JobManagerURL = defaults.Server.JobManagerURL
	}
	if cfg.Server.ExplorerURL == "" {
		cfg.Server.ExplorerURL = defaults.Server.ExplorerURL
	}
	if cfg.Sampling.MaxTokens == 0 {
		cfg.Sampling.MaxTokens = defaults.Sampling.MaxTokens
	}
	if cfg.Sampling.TopP == 0 {
		cfg.Sampling.TopP = defaults.Sampling.TopP
	}
	if cfg.Context.AbsoluteMaxTokens == 0 {
		cfg.Context.AbsoluteMaxTokens = defaults.Context.AbsoluteMaxTokens
	}
	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = defaults.Context.MaxContextTokens
	}
	if cfg.Context.PrevChatLimit == 0 {
		cfg.Context.PrevChatLimit = defaults.Context.PrevChatLimit
	}
	if cfg.Context.TruncateFrom == "" {
		cfg.Context.TruncateFrom = defaults.Context.TruncateFrom
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies GRIDCHAT_* environment variables over the loaded
// configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GRIDCHAT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("GRIDCHAT_ASK_URL"); v != "" {
		c.Server.AskURL = v
	}
	if v := os.Getenv("GRIDCHAT_JOB_MANAGER_URL"); v != "" {
		c.Server.JobManagerURL = v
	}
	if v := os.Getenv("GRIDCHAT_EXPLORER_URL"); v != "" {
		c.Server.ExplorerURL = v
	}
	if v := os.Getenv("GRIDCHAT_MODE"); v != "" {
		c.Tools.Mode = v
	}
	if v := os.Getenv("GRIDCHAT_CUSTOM_PROMPT"); v != "" {
		c.UI.CustomPrompt = v
	}
	if v := os.Getenv("GRIDCHAT_THEME"); v != "" {
		c.UI.Theme = v
	}
	if v := os.Getenv("GRIDCHAT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Sampling.Temperature = f
		}
	}
	if v := os.Getenv("GRIDCHAT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sampling.MaxTokens = n
		}
	}
	if v := os.Getenv("GRIDCHAT_SHOW_ERRORS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.UI.ShowErrorMessages = b
		}
	}
	if v := os.Getenv("GRIDCHAT_WEBSEARCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.UI.Websearch = b
		}
	}
	if v := os.Getenv("GRIDCHAT_THINKING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.UI.Thinking = b
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Clamp pulls out-of-range numeric values back into their valid bounds.
// Runs before Validate so a hand-edited config self-heals instead of
// refusing to start.
func (c *Config) Clamp() {
	c.Sampling.Temperature = clampFloat(c.Sampling.Temperature, 0, 2)
	c.Sampling.TopP = clampFloat(c.Sampling.TopP, 0.01, 1)
	c.Sampling.FrequencyPenalty = clampFloat(c.Sampling.FrequencyPenalty, -2, 2)
	c.Sampling.PresencePenalty = clampFloat(c.Sampling.PresencePenalty, -2, 2)

	if c.Sampling.MaxTokens < 1 {
		c.Sampling.MaxTokens = 1
	}
	if c.Context.MaxContextTokens > c.Context.AbsoluteMaxTokens {
		c.Context.MaxContextTokens = c.Context.AbsoluteMaxTokens
	}
	if c.Context.PrevChatLimit < 0 {
		c.Context.PrevChatLimit = 0
	}
}

// Validate checks the configuration and returns all failures.
func (c *Config) Validate() error {
	var errs ValidateErrors

	for field, raw := range map[string]string{
		"server.ask_url":         c.Server.AskURL,
		"server.job_manager_url": c.Server.JobManagerURL,
		"server.explorer_url":    c.Server.ExplorerURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid URL %q", raw),
			})
		}
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	switch strings.ToLower(c.Context.TruncateFrom) {
	case "start", "end":
	default:
		errs = append(errs, ValidationError{
			Field:   "context.truncate_from",
			Message: fmt.Sprintf("invalid value '%s', must be one of: start, end", c.Context.TruncateFrom),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save saves the configuration to the default path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file with owner-only
// permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# grid-tui configuration file")
	fmt.Fprintln(file, "# Generated by grid-tui - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// clampFloat bounds v to [lo, hi].
func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
