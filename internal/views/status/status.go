package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/UkemeSkywalker/Quanta/internal/session"
	"github.com/UkemeSkywalker/Quanta/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	State       session.State
	Attempt     int
	MaxAttempts int
	ClientID    string
	Topic       string
	// Spinner is the current spinner frame, shown while dialing.
	Spinner string
	Width   int
}

// New creates a status bar model.
func New(clientID string, maxAttempts int) Model {
	return Model{ClientID: clientID, MaxAttempts: maxAttempts}
}

// SetState records a connection state change.
func (m *Model) SetState(sc session.StateChange) {
	m.State = sc.New
	m.Attempt = sc.Attempt
}

// Label describes the connection state for humans.
func (m Model) Label() string {
	switch m.State {
	case session.Connected:
		return "Connected"
	case session.Connecting:
		if m.Attempt > 0 {
			return fmt.Sprintf("Connecting (attempt %d/%d)", m.Attempt, m.MaxAttempts)
		}
		return "Connecting..."
	case session.Reconnecting:
		return fmt.Sprintf("Reconnecting (attempt %d/%d)", m.Attempt, m.MaxAttempts)
	case session.Error:
		return "Error · r to reconnect"
	default:
		if m.MaxAttempts > 0 && m.Attempt >= m.MaxAttempts {
			return "Disconnected · retries exhausted · r to reconnect"
		}
		return "Disconnected · r to reconnect"
	}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	name := m.State.String()
	glyph := theme.StateGlyph(name)
	if m.Spinner != "" && (m.State == session.Connecting || m.State == session.Reconnecting) {
		glyph = m.Spinner
	}
	connStr := lipgloss.NewStyle().Foreground(theme.StateColor(name)).Render(glyph + " " + m.Label())

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + theme.StyleDimmed.Render(m.ClientID)
	if m.Topic != "" {
		content += sep + m.Topic
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
