// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/gridchat/grid-tui/internal/model"
	"github.com/gridchat/grid-tui/internal/ui/styles"
	"github.com/gridchat/grid-tui/internal/util"
)

// chromeHeight is the vertical space taken by the header, alert line, input
// box and status bar around the viewport.
const chromeHeight = 7

// rebuildRenderer recreates the markdown renderer for the current width.
func (m *Model) rebuildRenderer(width int) {
	wrap := width - 4
	if wrap < 20 {
		wrap = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err == nil {
		m.renderer = renderer
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	if m.approval.IsVisible() {
		return m.approval.View()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderAlert())
	b.WriteString("\n")
	b.WriteString(m.theme.InputContainer.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.statusBar.View())
	return b.String()
}

// renderHeader renders the top line: thread title plus active model.
func (m *Model) renderHeader() string {
	title := m.title
	if title == "" {
		title = "New chat"
	}
	line := m.theme.HeaderTitle.Render("gridchat") + "  " +
		m.theme.HeaderModel.Render(title)
	if m.width > 0 {
		line = util.TruncateWidth(line, m.width-2)
	}
	return m.theme.Header.Width(m.width).Render(line)
}

// renderAlert renders the transient alert line, blank when none is active.
func (m *Model) renderAlert() string {
	if m.alert == "" {
		return ""
	}
	return styles.RenderWarning(util.TruncateWidth(util.FirstLine(m.alert), m.width-6))
}

// refreshViewport re-renders the scrollback and optionally follows the tail.
func (m *Model) refreshViewport(gotoBottom bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderConversation())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

// renderConversation renders all committed turns plus the live stream.
func (m *Model) renderConversation() string {
	var sections []string

	if m.log != nil {
		for _, turn := range m.log.Turns() {
			sections = append(sections, m.renderTurn(turn))
		}
	}

	if live := m.renderLiveTurn(); live != "" {
		sections = append(sections, live)
	}

	if len(sections) == 0 {
		return m.theme.TurnMeta.Render("Ask about deploying models on GPU markets to get started.")
	}
	return strings.Join(sections, "\n\n")
}

// renderTurn renders one committed turn.
func (m *Model) renderTurn(turn model.Turn) string {
	var b strings.Builder
	b.WriteString(m.theme.RoleLabel.Render(turn.Role.DisplayName()))
	if turn.Model != "" {
		b.WriteString(m.theme.TurnMeta.Render("  " + turn.Model))
	}
	b.WriteString("\n")

	switch {
	case turn.Status == model.StatusError:
		b.WriteString(m.theme.ErrorTurn.Render(turn.Content))
	case turn.Status == model.StatusAborted:
		b.WriteString(m.theme.AbortedTurn.Render(turn.Content))
	case turn.Role == model.RoleUser:
		b.WriteString(m.theme.UserBubble.Render(turn.Content))
	default:
		b.WriteString(m.theme.ModelBubble.Render(m.renderMarkdown(turn.Content)))
	}

	if turn.Reasoning != "" && !turn.Collapsed {
		b.WriteString("\n")
		b.WriteString(m.theme.Reasoning.Render(turn.Reasoning))
	}

	if len(turn.SearchResults) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderSearchResults(turn.SearchResults))
	}

	if len(turn.FollowUps) > 0 {
		b.WriteString("\n")
		for _, f := range turn.FollowUps {
			b.WriteString(m.theme.FollowUp.Render("? " + f.Question))
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// renderLiveTurn renders the in-progress stream from the throttler snapshot.
func (m *Model) renderLiveTurn() string {
	reasoning, answer := m.engine.Throttler().Snapshot()
	spinnerLine := m.spinner.View()
	if len(reasoning) == 0 && len(answer) == 0 && spinnerLine == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.theme.RoleLabel.Render("Assistant"))
	b.WriteString("\n")

	if len(reasoning) > 0 {
		b.WriteString(m.theme.Reasoning.Render(strings.Join(reasoning, "")))
		b.WriteString("\n")
	}
	if len(answer) > 0 {
		b.WriteString(m.theme.ModelBubble.Render(strings.Join(answer, "")))
		b.WriteString("\n")
	}
	if spinnerLine != "" {
		b.WriteString(spinnerLine)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderSearchResults renders attached web search hits.
func (m *Model) renderSearchResults(results []model.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		b.WriteString(m.theme.SearchTitle.Render(r.Title))
		b.WriteString("\n")
		b.WriteString(m.theme.SearchURL.Render(r.URL))
		if i < len(results)-1 {
			b.WriteString("\n")
		}
	}
	return lipgloss.NewStyle().PaddingLeft(2).Render(b.String())
}

// renderMarkdown renders model output as markdown, falling back to the raw
// text on failure.
func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
