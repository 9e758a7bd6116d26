// Package workflow renders the followed workflow: status, an animated
// progress bar, the current agent, the latest message and the update history.
package workflow

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/UkemeSkywalker/Quanta/internal/theme"
	wf "github.com/UkemeSkywalker/Quanta/internal/workflow"
)

const (
	fps           = 60
	maxUpdates    = 8
	settleEpsilon = 0.001
)

// FrameMsg advances the progress animation by one frame.
type FrameMsg struct{}

// Model holds the workflow panel state.
type Model struct {
	Snapshot wf.Snapshot
	Updates  []wf.Update
	Width    int

	bar       progress.Model
	spring    harmonica.Spring
	shown     float64
	velocity  float64
	animating bool

	style    string
	renderer *glamour.TermRenderer
	wrap     int
	message  string
}

// New creates a workflow panel. style names a glamour standard style such as
// "dark", "light" or "notty".
func New(style string) Model {
	if style == "" {
		style = "dark"
	}
	return Model{
		bar:    progress.New(progress.WithGradient(theme.GradientStart, theme.GradientEnd), progress.WithoutPercentage()),
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.8),
		style:  style,
	}
}

// SetSize updates the panel width and re-renders the message.
func (m *Model) SetSize(width int) {
	m.Width = width
	m.bar.Width = max(10, width-16)
	m.renderMessage()
}

// SetSnapshot records a new snapshot and returns a command that starts the
// progress animation when the target moved.
func (m *Model) SetSnapshot(s wf.Snapshot, updates []wf.Update) tea.Cmd {
	m.Snapshot = s
	m.Updates = updates
	m.renderMessage()

	if m.settled() || m.animating {
		return nil
	}
	m.animating = true
	return frame()
}

// Update advances the animation on FrameMsg.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(FrameMsg); !ok {
		return nil
	}
	m.shown, m.velocity = m.spring.Update(m.shown, m.velocity, m.target())
	if m.settled() {
		m.shown, m.velocity = m.target(), 0
		m.animating = false
		return nil
	}
	return frame()
}

// Shown is the fraction currently drawn by the progress bar.
func (m Model) Shown() float64 {
	return m.shown
}

func (m Model) target() float64 {
	return math.Max(0, math.Min(1, m.Snapshot.Progress/100))
}

func (m Model) settled() bool {
	return math.Abs(m.target()-m.shown) < settleEpsilon && math.Abs(m.velocity) < settleEpsilon
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{} })
}

// renderMessage caches the glamour rendering of the snapshot message.
func (m *Model) renderMessage() {
	if m.Snapshot.Message == "" {
		m.message = ""
		return
	}
	wrap := max(20, m.Width-6)
	if m.renderer == nil || m.wrap != wrap {
		r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(m.style), glamour.WithWordWrap(wrap))
		if err != nil {
			m.renderer = nil
			m.message = m.Snapshot.Message
			return
		}
		m.renderer, m.wrap = r, wrap
	}
	out, err := m.renderer.Render(m.Snapshot.Message)
	if err != nil {
		m.message = m.Snapshot.Message
		return
	}
	m.message = strings.Trim(out, "\n")
}

// View renders the panel.
func (m Model) View() string {
	width := max(40, m.Width)
	panel := theme.StyleBorder.Width(width-2).Padding(0, 1)

	if m.Snapshot.WorkflowID == "" && len(m.Updates) == 0 {
		return panel.Render(theme.StyleDimmed.Render("Waiting for workflow updates..."))
	}

	status := m.Snapshot.Status
	if status == "" {
		status = "unknown"
	}
	header := theme.StyleHeader.Render(" WORKFLOW ") + " " + m.Snapshot.WorkflowID + "  " +
		lipgloss.NewStyle().Foreground(theme.StatusColor(status)).Bold(true).Render(strings.ToUpper(status))

	bar := m.bar.ViewAs(m.shown) + fmt.Sprintf(" %3.0f%%", m.Snapshot.Progress)

	agent := theme.StyleDimmed.Render("Agent: ")
	if m.Snapshot.CurrentAgent != "" {
		agent += lipgloss.NewStyle().Foreground(theme.AgentColor(m.Snapshot.CurrentAgent)).Render(m.Snapshot.CurrentAgent)
	} else {
		agent += theme.StyleDimmed.Render("none")
	}

	parts := []string{header, "", bar, agent}
	if m.message != "" {
		parts = append(parts, "", m.message)
	}
	parts = append(parts, "", m.updatesView())
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) updatesView() string {
	title := theme.StyleHeader.Render(fmt.Sprintf("UPDATES (%d)", len(m.Updates)))
	if len(m.Updates) == 0 {
		return title
	}
	start := max(0, len(m.Updates)-maxUpdates)
	lines := []string{title}
	for _, u := range m.Updates[start:] {
		agent := ""
		if u.AgentName != nil {
			agent = *u.AgentName
		}
		lines = append(lines, fmt.Sprintf("%s %-18s %-13s %s",
			theme.StyleDimmed.Render(u.Timestamp.Format("15:04:05")),
			string(u.Type),
			lipgloss.NewStyle().Foreground(theme.AgentColor(agent)).Width(13).Render(agent),
			lipgloss.NewStyle().Foreground(theme.StatusColor(u.Status)).Render(u.Status),
		))
	}
	if start > 0 {
		lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  ... %d earlier", start)))
	}
	return strings.Join(lines, "\n")
}
