package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/UkemeSkywalker/Quanta/internal/client"
	"github.com/UkemeSkywalker/Quanta/internal/session"
	"github.com/UkemeSkywalker/Quanta/internal/theme"
	"github.com/UkemeSkywalker/Quanta/internal/views/msglog"
	"github.com/UkemeSkywalker/Quanta/internal/views/status"
	workflowview "github.com/UkemeSkywalker/Quanta/internal/views/workflow"
	"github.com/UkemeSkywalker/Quanta/internal/workflow"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayLog
)

// Options configures the root model.
type Options struct {
	ClientID string
	Topic    string
	// GlamourStyle names the markdown style for workflow messages.
	GlamourStyle string
}

// Model is the root Bubble Tea model.
type Model struct {
	watcher *client.Watcher

	keys    KeyMap
	width   int
	height  int
	overlay Overlay

	// Connection state.
	state   session.State
	dialed  bool
	lastErr string

	// Sub-views.
	statusBar status.Model
	workflow  workflowview.Model
	log       msglog.Model
	spinner   spinner.Model
}

// New creates the root model around a watcher that has not been started.
func New(w *client.Watcher, opts Options) Model {
	sb := status.New(opts.ClientID, w.Manager.MaxAttempts())
	sb.Topic = opts.Topic
	return Model{
		watcher:   w,
		keys:      DefaultKeyMap(),
		statusBar: sb,
		workflow:  workflowview.New(opts.GlamourStyle),
		log:       msglog.New(),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.ColorReconnecting)),
		),
	}
}

// Init starts the session and the event pump.
func (m Model) Init() tea.Cmd {
	w := m.watcher
	return tea.Batch(
		w.Listen(),
		m.spinner.Tick,
		func() tea.Msg {
			w.Start()
			return nil
		},
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.workflow.SetSize(msg.Width)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.StateMsg:
		sc := msg.Change
		m.state = sc.New
		m.dialed = true
		m.statusBar.SetState(sc)
		m.log.Add("conn", fmt.Sprintf("%s -> %s", sc.Old, sc.New))
		if sc.Err != nil {
			m.lastErr = sc.Err.Error()
			m.log.Add("err", m.lastErr)
		} else if sc.New == session.Connected {
			m.lastErr = ""
		}
		return m, m.watcher.Listen()

	case client.EnvelopeMsg:
		m.log.AddEnvelope(msg.Envelope)
		return m, m.watcher.Listen()

	case client.SnapshotMsg:
		anim := m.workflow.SetSnapshot(msg.Snapshot, m.watcher.Workflow.Updates())
		return m, tea.Batch(m.watcher.Listen(), anim)

	case client.ClosedMsg:
		return m, tea.Quit

	case workflowview.FrameMsg:
		return m, m.workflow.Update(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.statusBar.Spinner = m.spinner.View()
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.watcher.Close()
		return m, tea.Quit
	}

	if m.overlay == OverlayLog {
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Log):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.log.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.log.ScrollDown(1)
		case key.Matches(msg, m.keys.Clear):
			m.clearLog()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Log):
		m.overlay = OverlayLog
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.clearLog()
		return m, nil

	case key.Matches(msg, m.keys.Reconnect):
		// The manager is authoritative; queued StateMsgs may not be drawn yet.
		if state := m.watcher.Manager.State(); !state.CanReconnect() {
			m.log.Add("nav", fmt.Sprintf("reconnect ignored while %s", state))
			return m, nil
		}
		m.log.Add("nav", "manual reconnect")
		m.watcher.Reconnect()
		return m, nil

	case key.Matches(msg, m.keys.Reset):
		m.watcher.Workflow.Reset()
		m.log.Add("nav", "workflow reset")
		return m, m.workflow.SetSnapshot(workflow.Snapshot{}, nil)
	}

	return m, nil
}

func (m *Model) clearLog() {
	m.watcher.Dispatcher.Clear()
	m.log.Clear()
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.overlay == OverlayLog {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.statusBar.View(),
			m.log.View(m.width, m.height-3),
		)
	}

	sections := []string{m.statusBar.View()}
	if banner := m.banner(); banner != "" {
		sections = append(sections, banner)
	}
	sections = append(sections,
		m.workflow.View(),
		theme.StyleDimmed.Render("  r:reconnect  x:reset  d:messages  c:clear  q:quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// banner explains a lost connection. It is empty while connected or dialing.
func (m Model) banner() string {
	var text string
	switch m.state {
	case session.Reconnecting:
		text = fmt.Sprintf("DISCONNECTED · Reconnecting (attempt %d/%d)", m.statusBar.Attempt, m.statusBar.MaxAttempts)
	case session.Error:
		text = "DISCONNECTED · error"
		if m.lastErr != "" {
			text += ": " + m.lastErr
		}
		text += " · press r to reconnect"
	case session.Disconnected:
		if !m.dialed {
			return ""
		}
		text = "DISCONNECTED · press r to reconnect"
	default:
		return ""
	}
	return lipgloss.NewStyle().
		Width(max(40, m.width)).
		Padding(0, 1).
		Bold(true).
		Foreground(theme.ColorBright).
		Background(theme.StateColor(m.state.String())).
		Render(text)
}
