// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gridchat/grid-tui/internal/engine"
	"github.com/gridchat/grid-tui/internal/ui/styles"
)

// =============================================================================
// APPROVAL DIALOG
// =============================================================================

// ApprovalResultMsg reports the user's decision on a pending tool call.
type ApprovalResultMsg struct {
	Approved bool
}

// Button options
const (
	buttonApprove = 0
	buttonDeny    = 1
	buttonCount   = 2
)

// maxPayloadLines caps the rendered job definition height.
const maxPayloadLines = 14

// ApprovalDialog displays a modal for a pending tool call awaiting human
// approval.
type ApprovalDialog struct {
	call *engine.PendingToolCall

	visible  bool
	selected int
	width    int
	height   int

	theme *styles.Theme
}

// NewApprovalDialog creates an approval dialog.
func NewApprovalDialog(theme *styles.Theme) *ApprovalDialog {
	return &ApprovalDialog{theme: theme, selected: buttonApprove}
}

// Show displays the dialog for a pending call.
func (d *ApprovalDialog) Show(call *engine.PendingToolCall) {
	d.call = call
	d.visible = true
	d.selected = buttonApprove
}

// Hide hides the dialog.
func (d *ApprovalDialog) Hide() {
	d.visible = false
	d.call = nil
}

// IsVisible returns whether the dialog is on screen.
func (d *ApprovalDialog) IsVisible() bool {
	return d.visible
}

// SetSize updates the dialog dimensions.
func (d *ApprovalDialog) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// Update handles key events. The second return reports whether the event
// was consumed.
func (d *ApprovalDialog) Update(msg tea.Msg) (tea.Cmd, bool) {
	if !d.visible {
		return nil, false
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil, false
	}

	switch key.String() {
	case "left", "h", "shift+tab":
		d.selected = (d.selected - 1 + buttonCount) % buttonCount
		return nil, true

	case "right", "l", "tab":
		d.selected = (d.selected + 1) % buttonCount
		return nil, true

	case "enter", " ":
		return d.decide(d.selected == buttonApprove), true

	case "y":
		return d.decide(true), true

	case "n", "esc":
		return d.decide(false), true
	}

	return nil, true
}

// decide hides the dialog and emits the decision.
func (d *ApprovalDialog) decide(approved bool) tea.Cmd {
	d.Hide()
	return func() tea.Msg {
		return ApprovalResultMsg{Approved: approved}
	}
}

// =============================================================================
// VIEW RENDERING
// =============================================================================

// View renders the dialog centered in the terminal.
func (d *ApprovalDialog) View() string {
	if !d.visible || d.call == nil {
		return ""
	}

	boxWidth := 64
	if d.width > 0 && d.width < 80 {
		boxWidth = d.width - 8
	}
	if boxWidth < 40 {
		boxWidth = 40
	}

	var content strings.Builder
	content.WriteString(d.theme.ApprovalTitle.Render(d.call.Heading))
	content.WriteString("\n\n")

	if summary := d.argsSummary(); summary != "" {
		content.WriteString(summary)
		content.WriteString("\n\n")
	}

	if payload := d.renderPayload(boxWidth - 8); payload != "" {
		content.WriteString(d.theme.ApprovalPayload.Width(boxWidth - 6).Render(payload))
		content.WriteString("\n\n")
	}

	content.WriteString(d.renderButtons())
	content.WriteString("\n\n")
	content.WriteString(d.theme.ApprovalHint.Render("y=Approve  n=Deny  Tab=Navigate"))

	box := d.theme.ApprovalBox.Width(boxWidth).Render(content.String())

	if d.width > 0 && d.height > 0 {
		return lipgloss.Place(d.width, d.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

// argsSummary renders the operation arguments relevant to the tool kind.
func (d *ApprovalDialog) argsSummary() string {
	label := lipgloss.NewStyle().Foreground(styles.TextSecondary)
	value := lipgloss.NewStyle().Foreground(styles.TextPrimary)

	var lines []string
	switch d.call.Name {
	case engine.ToolCreateJob:
		if d.call.Args.MarketPubKey != "" {
			lines = append(lines, label.Render("market: ")+value.Render(d.call.Args.MarketPubKey))
		}
		if d.call.Args.TimeoutSeconds > 0 {
			lines = append(lines, label.Render("timeout: ")+
				value.Render(fmt.Sprintf("%g min", d.call.Args.TimeoutSeconds/60)))
		}
	case engine.ToolStopJob:
		lines = append(lines, label.Render("job: ")+value.Render(d.call.Args.JobID))
	case engine.ToolExtendJob:
		lines = append(lines, label.Render("job: ")+value.Render(d.call.Args.JobID))
		if d.call.Args.ExtensionSeconds > 0 {
			lines = append(lines, label.Render("extension: ")+
				value.Render(fmt.Sprintf("%g min", d.call.Args.ExtensionSeconds/60)))
		}
	}
	return strings.Join(lines, "\n")
}

// renderPayload pretty-prints the proposed payload, truncated to a sane
// height and width.
func (d *ApprovalDialog) renderPayload(width int) string {
	if len(d.call.Prompt) == 0 {
		return ""
	}

	var pretty bytes.Buffer
	text := string(d.call.Prompt)
	if err := json.Indent(&pretty, d.call.Prompt, "", "  "); err == nil {
		text = pretty.String()
	}

	lines := strings.Split(text, "\n")
	if len(lines) > maxPayloadLines {
		lines = append(lines[:maxPayloadLines], "...")
	}
	for i, line := range lines {
		runes := []rune(line)
		if width > 3 && len(runes) > width {
			lines[i] = string(runes[:width-3]) + "..."
		}
	}
	return strings.Join(lines, "\n")
}

// renderButtons renders the Approve/Deny row.
func (d *ApprovalDialog) renderButtons() string {
	var buttons []string

	if d.selected == buttonApprove {
		buttons = append(buttons, d.theme.ApprovalButtonActive.Render("Approve"))
	} else {
		buttons = append(buttons, d.theme.ApprovalButton.Render("Approve"))
	}

	if d.selected == buttonDeny {
		buttons = append(buttons, d.theme.ApprovalButtonDeny.Render("Deny"))
	} else {
		buttons = append(buttons, d.theme.ApprovalButton.Render("Deny"))
	}

	return lipgloss.JoinHorizontal(lipgloss.Center, buttons...)
}
