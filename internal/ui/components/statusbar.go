// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/gridchat/grid-tui/internal/ui/styles"
)

// =============================================================================
// STATUS BAR
// =============================================================================

// StatusBar renders the bottom bar: model, tool mode, wallet state and the
// current stream status.
type StatusBar struct {
	theme *styles.Theme

	Model     string
	Mode      string
	Wallet    string // redacted credential, empty when disconnected
	Streaming string // engine status text, empty when idle
	Width     int
}

// NewStatusBar creates a status bar.
func NewStatusBar(theme *styles.Theme) StatusBar {
	return StatusBar{theme: theme}
}

// View renders the status bar at the configured width.
func (b StatusBar) View() string {
	var left []string

	if b.Model != "" {
		left = append(left, b.theme.StatusMode.Render(b.Model))
	}
	if b.Mode != "" {
		left = append(left, b.theme.StatusMode.Render("mode:"+b.Mode))
	}
	if b.Wallet != "" {
		left = append(left, b.theme.WalletConnected.Render("wallet:"+b.Wallet))
	} else {
		left = append(left, b.theme.WalletMissing.Render("wallet:none"))
	}
	if b.Streaming != "" {
		left = append(left, b.theme.StatusStreaming.Render(b.Streaming))
	}

	hints := strings.Join([]string{
		b.theme.ShortcutKey.Render("^C") + b.theme.ShortcutDesc.Render(" quit"),
		b.theme.ShortcutKey.Render("esc") + b.theme.ShortcutDesc.Render(" abort"),
	}, "  ")

	leftStr := strings.Join(left, "  ")
	gap := b.Width - lipgloss.Width(leftStr) - lipgloss.Width(hints) - 2
	if gap < 1 {
		gap = 1
	}

	line := leftStr + strings.Repeat(" ", gap) + hints
	if b.Width > 0 {
		line = runewidth.Truncate(line, b.Width-2, "")
	}
	return b.theme.StatusBar.Width(b.Width).Render(line)
}
