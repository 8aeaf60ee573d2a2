// gridchat TUI - A terminal chat client for GPU job deployment.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gridchat/grid-tui/internal/config"
	"github.com/gridchat/grid-tui/internal/engine"
	"github.com/gridchat/grid-tui/internal/jobs"
	"github.com/gridchat/grid-tui/internal/model"
	"github.com/gridchat/grid-tui/internal/storage"
	"github.com/gridchat/grid-tui/internal/ui/chat"
	"github.com/gridchat/grid-tui/internal/ui/styles"
	"github.com/gridchat/grid-tui/internal/wallet"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Global program reference for async engine callbacks
var (
	programRef *tea.Program
	programMu  sync.Mutex
)

func sendToProgram(msg tea.Msg) {
	programMu.Lock()
	p := programRef
	programMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to config.toml (default ~/.gridchat/config.toml)")
		modelFlag   = flag.String("model", "", "override the default model for this session")
		threadFlag  = flag.String("thread", "", "resume an existing thread by id")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridchat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *modelFlag, *threadFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, modelOverride, threadID string) error {
	// Configuration
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if modelOverride != "" {
		cfg.DefaultModel = modelOverride
	}

	dir, err := config.Dir()
	if err != nil {
		return err
	}
	if err := config.EnsureDir(); err != nil {
		return err
	}

	// Log to a file; stderr belongs to the TUI.
	logFile, err := os.OpenFile(filepath.Join(dir, "gridchat.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, "", log.LstdFlags)

	// Thread persistence
	store, err := storage.Open(filepath.Join(dir, "threads.db"))
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}
	defer store.Close()

	// Credentials
	credPath := cfg.Tools.CredentialPath
	if credPath == "" {
		credPath = filepath.Join(dir, "credential")
	}
	creds := wallet.NewProvider(credPath)

	// Job manager client
	jobClient := jobs.NewClient(cfg.Server.JobManagerURL, creds.Credential())

	// Active thread
	meta, err := resolveThread(store, threadID, cfg.Tools.Mode)
	if err != nil {
		return err
	}
	threadLog, err := storage.NewThreadLog(store, meta.ID)
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}

	// Live settings, swapped atomically on config reload.
	var settingsMu sync.RWMutex
	current := cfg
	settings := func() engine.Settings {
		settingsMu.RLock()
		defer settingsMu.RUnlock()
		return settingsFromConfig(current)
	}

	eng := engine.New(engine.Deps{
		AskURL:      cfg.Server.AskURL,
		Log:         threadLog,
		Threads:     store,
		Jobs:        jobClient,
		Validate:    jobs.ValidateDefinition,
		Credentials: creds,
		Settings:    settings,
		Alert:       func(msg string) { sendToProgram(chat.AlertMsg(msg)) },
		OnStatus:    func(label string) { sendToProgram(chat.StatusMsg(label)) },
		OnFlush:     func() { sendToProgram(chat.FlushMsg{}) },
		Logger:      logger,
	})
	eng.SetThread(meta.ID)
	eng.SetModel(cfg.DefaultModel)

	// Chat screen
	screen := chat.New(chat.Options{
		Engine: eng,
		Log:    threadLog,
		Theme:  styles.NewTheme(),
		Title:  meta.Title,
		Model:  cfg.DefaultModel,
		Mode:   cfg.Tools.Mode,
		Wallet: creds.Redacted(),
	})

	p := tea.NewProgram(screen, tea.WithAltScreen())
	programMu.Lock()
	programRef = p
	programMu.Unlock()

	// Pick up config edits while running.
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath, err = config.Path()
		if err != nil {
			return err
		}
	}
	watcher, err := config.Watch(cfgPath, func(next *config.Config) {
		settingsMu.Lock()
		current = next
		settingsMu.Unlock()
		logger.Printf("config reloaded from %s", cfgPath)
	})
	if err != nil {
		logger.Printf("config watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run program: %w", err)
	}
	return nil
}

// resolveThread resumes an existing thread or creates a fresh one.
func resolveThread(store *storage.Store, threadID, tool string) (model.ThreadMeta, error) {
	if threadID != "" {
		metas, err := store.ListThreads()
		if err != nil {
			return model.ThreadMeta{}, err
		}
		for _, m := range metas {
			if m.ID == threadID {
				return m, nil
			}
		}
		return model.ThreadMeta{}, fmt.Errorf("thread %q not found", threadID)
	}
	meta, err := store.CreateThread("New chat", tool)
	if err != nil {
		return model.ThreadMeta{}, fmt.Errorf("create thread: %w", err)
	}
	return meta, nil
}

// settingsFromConfig maps the on-disk configuration to a per-turn settings
// snapshot.
func settingsFromConfig(cfg *config.Config) engine.Settings {
	s := engine.Settings{
		Model:         cfg.DefaultModel,
		Mode:          cfg.Tools.Mode,
		CustomPrompt:  cfg.UI.CustomPrompt,
		Websearch:     cfg.UI.Websearch,
		Thinking:      cfg.UI.Thinking,
		VerboseErrors: cfg.UI.ShowErrorMessages,
		ExplorerURL:   cfg.Server.ExplorerURL,
		Sampling: engine.SamplingConfig{
			Temperature:      cfg.Sampling.Temperature,
			MaxTokens:        cfg.Sampling.MaxTokens,
			TopP:             cfg.Sampling.TopP,
			FrequencyPenalty: cfg.Sampling.FrequencyPenalty,
			PresencePenalty:  cfg.Sampling.PresencePenalty,
			Context: engine.ContextConfig{
				AbsoluteMaxTokens: cfg.Context.AbsoluteMaxTokens,
				MaxContextTokens:  cfg.Context.MaxContextTokens,
				PrevChatLimit:     cfg.Context.PrevChatLimit,
				TruncateFrom:      cfg.Context.TruncateFrom,
			},
		},
	}
	if cfg.Server.DeployedServiceURL != "" {
		s.DeployedModel = &engine.DeployedModel{
			BaseURL: cfg.Server.DeployedServiceURL,
			Model:   cfg.Server.DeployedServiceModel,
		}
	}
	return s
}
