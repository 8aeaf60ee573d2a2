// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/gridchat/grid-tui/internal/engine"
	"github.com/gridchat/grid-tui/internal/ui/components"
	"github.com/gridchat/grid-tui/internal/ui/styles"
)

// alertTimeout controls how long a transient alert stays on screen.
const alertTimeout = 6 * time.Second

// alertExpiredMsg clears a displayed alert.
type alertExpiredMsg struct{}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the main chat screen.
type Model struct {
	engine *engine.Engine
	log    engine.ConversationLog
	theme  *styles.Theme

	// Components
	viewport  viewport.Model
	input     textinput.Model
	spinner   components.Spinner
	statusBar components.StatusBar
	approval  *components.ApprovalDialog
	renderer  *glamour.TermRenderer

	// Layout
	width  int
	height int
	ready  bool

	// Transient state
	status string
	alert  string
	title  string
}

// Options configures the chat screen.
type Options struct {
	Engine *engine.Engine
	Log    engine.ConversationLog
	Theme  *styles.Theme
	Title  string
	Model  string
	Mode   string
	Wallet string // redacted credential for the status bar
}

// New creates the chat screen.
func New(opts Options) *Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}

	input := textinput.New()
	input.Placeholder = "Ask about GPU deployments..."
	input.Prompt = theme.InputPrompt.Render("> ")
	input.CharLimit = 0
	input.Focus()

	bar := components.NewStatusBar(theme)
	bar.Model = opts.Model
	bar.Mode = opts.Mode
	bar.Wallet = opts.Wallet

	return &Model{
		engine:    opts.Engine,
		log:       opts.Log,
		theme:     theme,
		input:     input,
		spinner:   components.NewSpinner(theme),
		statusBar: bar,
		approval:  components.NewApprovalDialog(theme),
		title:     opts.Title,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// The approval overlay consumes keys while visible.
	if cmd, handled := m.approval.Update(msg); handled {
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Abort):
			if m.engine.InFlight() {
				m.engine.CancelTurn()
			}
			return m, nil

		case key.Matches(msg, keys.Submit):
			return m, m.submit()

		case key.Matches(msg, keys.ScrollUp):
			m.viewport.HalfViewUp()
			return m, nil

		case key.Matches(msg, keys.ScrollDn):
			m.viewport.HalfViewDown()
			return m, nil
		}

	case FlushMsg:
		m.syncApproval()
		m.refreshViewport(true)
		return m, nil

	case StatusMsg:
		m.status = string(msg)
		m.statusBar.Streaming = m.status
		m.syncApproval()
		switch {
		case m.status == "" && !m.engine.InFlight():
			m.spinner.Stop()
		case m.status != "" && !m.spinner.Active():
			cmds = append(cmds, m.spinner.Start(m.status))
		case m.status != "":
			m.spinner.SetMessage(m.status)
		}
		m.refreshViewport(true)
		return m, tea.Batch(cmds...)

	case AlertMsg:
		m.alert = string(msg)
		return m, tea.Tick(alertTimeout, func(time.Time) tea.Msg {
			return alertExpiredMsg{}
		})

	case alertExpiredMsg:
		m.alert = ""
		return m, nil

	case turnDoneMsg:
		m.spinner.Stop()
		m.status = ""
		m.statusBar.Streaming = ""
		if msg.err != nil && !errors.Is(msg.err, engine.ErrEmptyQuery) {
			m.alert = msg.err.Error()
		}
		m.syncApproval()
		m.refreshViewport(true)
		return m, nil

	case refreshMsg:
		m.syncApproval()
		m.refreshViewport(true)
		return m, nil

	case components.ApprovalResultMsg:
		return m, m.resolveApproval(msg.Approved)
	}

	if cmd := m.spinner.Update(msg); cmd != nil {
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit sends the current input as a new turn.
func (m *Model) submit() tea.Cmd {
	query := m.input.Value()
	if query == "" || m.engine.InFlight() {
		return nil
	}
	m.input.Reset()

	eng := m.engine
	start := m.spinner.Start("Thinking")
	m.refreshViewport(true)

	run := func() tea.Msg {
		err := eng.SubmitTurn(context.Background(), query, engine.TurnOptions{})
		return turnDoneMsg{err: err}
	}
	return tea.Batch(start, run)
}

// syncApproval shows the approval overlay when the engine holds a pending
// call and the overlay is not already up.
func (m *Model) syncApproval() {
	if m.engine.ApprovalPhase() == engine.PhaseAwaiting && !m.approval.IsVisible() {
		if call := m.engine.PendingCall(); call != nil {
			m.approval.Show(call)
		}
	}
}

// resolveApproval forwards the user's decision to the engine. Confirm and
// cancel both run the follow-up turn synchronously, so keep them off the
// update loop.
func (m *Model) resolveApproval(approved bool) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		if approved {
			eng.ConfirmPending(context.Background())
		} else {
			eng.CancelPending(context.Background())
		}
		return refreshMsg{}
	}
}

// resize recomputes the layout after a terminal size change.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.theme.SetSize(width, height)
	m.statusBar.Width = width
	m.approval.SetSize(width, height)
	m.input.Width = width - 6
	m.rebuildRenderer(width)

	contentHeight := height - chromeHeight
	if contentHeight < 1 {
		contentHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, contentHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = contentHeight
	}
	m.refreshViewport(false)
}
