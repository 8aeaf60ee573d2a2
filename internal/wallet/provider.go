// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/gridchat/grid-tui/internal/util"
)

// ErrNotConnected indicates no wallet or API key is available and none could
// be acquired.
var ErrNotConnected = errors.New("no connection available: connect a wallet or set an API key")

// Mode distinguishes the two credential kinds.
type Mode int

const (
	// ModeNone: no credential stored.
	ModeNone Mode = iota
	// ModeWallet: a wallet public key.
	ModeWallet
	// ModeAPIKey: an API key.
	ModeAPIKey
)

// =============================================================================
// PROVIDER
// =============================================================================

// Provider stores and serves the grid credential. The credential file lives
// under the config directory with owner-only permissions.
type Provider struct {
	mu   sync.Mutex
	path string
	mode Mode
	key  string

	// promptFn acquires a key interactively; replaceable in tests.
	promptFn func() (string, error)
}

// NewProvider creates a provider backed by the given credential file,
// loading any stored credential. A missing or unreadable file leaves the
// provider disconnected.
func NewProvider(path string) *Provider {
	p := &Provider{path: path, promptFn: promptForKey}
	p.load()
	return p
}

// load reads the stored credential, if any.
func (p *Provider) load() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	p.setKey(strings.TrimSpace(string(data)))
}

// setKey classifies and installs a key. Caller must hold no lock during
// NewProvider; all other callers hold p.mu.
func (p *Provider) setKey(key string) {
	p.key = key
	switch {
	case key == "":
		p.mode = ModeNone
	case strings.HasPrefix(key, "nos_"):
		p.mode = ModeAPIKey
	default:
		p.mode = ModeWallet
	}
}

// Connected reports whether a credential is available.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode != ModeNone
}

// Credential returns the key sent with job requests, or "" when
// disconnected.
func (p *Provider) Credential() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

// Redacted returns a display-safe form of the credential, keeping only the
// first and last four characters.
func (p *Provider) Redacted() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key == "" {
		return "(not connected)"
	}
	if len(p.key) <= 8 {
		return "****"
	}
	return p.key[:4] + "…" + p.key[len(p.key)-4:]
}

// Ensure guarantees a credential is available, prompting for one when the
// store is empty. Returns ErrNotConnected when acquisition fails or yields
// nothing.
func (p *Provider) Ensure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode != ModeNone {
		return nil
	}

	key, err := p.promptFn()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNotConnected
	}

	p.setKey(key)
	return p.persistLocked()
}

// SetCredential installs and persists a key directly, bypassing the prompt.
func (p *Provider) SetCredential(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setKey(strings.TrimSpace(key))
	if p.mode == ModeNone {
		return os.Remove(p.path)
	}
	return p.persistLocked()
}

// persistLocked writes the credential file with owner-only permissions.
// Caller must hold p.mu.
func (p *Provider) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	if err := util.AtomicWriteFile(p.path, []byte(p.key+"\n"), 0600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

// promptForKey reads a key from the terminal without echo.
func promptForKey() (string, error) {
	fmt.Fprint(os.Stderr, "Enter wallet public key or API key: ")
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return string(keyBytes), nil
}
