// Package msglog provides the scrollable message log overlay. It shows every
// inbound envelope alongside connection events.
package msglog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/UkemeSkywalker/Quanta/internal/dispatch"
	"github.com/UkemeSkywalker/Quanta/internal/theme"
)

const maxEntries = 200

// Entry is a single log line.
type Entry struct {
	Time    time.Time
	Kind    string // "conn", "err", "text", or an inbound message type
	Message string
}

// Model holds message log state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)
}

// New creates an empty message log.
func New() Model {
	return Model{}
}

// Add appends a local event stamped with the current time.
func (m *Model) Add(kind, message string) {
	m.append(Entry{Time: time.Now(), Kind: kind, Message: message})
}

// AddEnvelope appends an inbound envelope using its own timestamp.
func (m *Model) AddEnvelope(e dispatch.Envelope) {
	kind := string(e.Type)
	msg := e.Text
	if !e.IsText() {
		msg = string(e.Payload)
	}
	m.append(Entry{Time: e.Timestamp, Kind: kind, Message: msg})
}

func (m *Model) append(e Entry) {
	m.Entries = append(m.Entries, e)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// Clear drops every entry.
func (m *Model) Clear() {
	m.Entries = nil
	m.Offset = 0
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 6
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" MESSAGE LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  c:clear  esc:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No messages received yet.")
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
		return panelStyle(innerW).Render(content)
	}

	end := len(m.Entries) - m.Offset
	start := end - visibleLines
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}

	var lines []string
	for i := start; i < end; i++ {
		e := m.Entries[i]
		tsStr := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kindStr := lipgloss.NewStyle().Foreground(kindToColor(e.Kind)).Width(22).Render(e.Kind)
		msgStr := e.Message
		if innerW > 41 {
			msgStr = truncate(msgStr, innerW-38)
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", tsStr, kindStr, msgStr))
	}

	body := strings.Join(lines, "\n")
	scrollIndicator := ""
	if m.Offset > 0 {
		scrollIndicator = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body, scrollIndicator, help)
	return panelStyle(innerW).Render(content)
}

// truncate cuts s to width terminal cells without splitting a rune.
func truncate(s string, width int) string {
	return ansi.Truncate(s, width, "...")
}

func kindToColor(kind string) lipgloss.Color {
	switch {
	case kind == "conn":
		return theme.ColorConnecting
	case kind == "err":
		return theme.ColorError
	case kind == "text":
		return theme.ColorDimmed
	case strings.HasPrefix(kind, "workflow_"), strings.HasPrefix(kind, "agent_"):
		return theme.ColorRunning
	default:
		return theme.ColorConnected
	}
}
