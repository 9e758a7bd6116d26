// Package theme provides the Lip Gloss color palette and reusable styles
// for the Quanta TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection state colors.
var (
	ColorConnected    = lipgloss.Color("#22c55e")
	ColorConnecting   = lipgloss.Color("#7c3aed")
	ColorReconnecting = lipgloss.Color("#d97706")
	ColorDisconnected = lipgloss.Color("#6b7280")
	ColorError        = lipgloss.Color("#dc2626")
)

// Workflow status colors.
var (
	ColorPending    = lipgloss.Color("#9ca3af")
	ColorRunning    = lipgloss.Color("#2563eb")
	ColorProcessing = lipgloss.Color("#d97706")
	ColorCompleted  = lipgloss.Color("#16a34a")
	ColorFailed     = lipgloss.Color("#dc2626")
	ColorPaused     = lipgloss.Color("#854d0e")
	ColorDefault    = lipgloss.Color("#9ca3af")
)

// Agent colors.
var (
	ColorResearch      = lipgloss.Color("#a855f7")
	ColorData          = lipgloss.Color("#3b82f6")
	ColorExperiment    = lipgloss.Color("#06b6d4")
	ColorCritic        = lipgloss.Color("#f59e0b")
	ColorVisualization = lipgloss.Color("#10b981")
)

// Progress gradient endpoints.
const (
	GradientStart = "#7c3aed"
	GradientEnd   = "#22c55e"
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorBg     = lipgloss.Color("#111827")
)

// StateColor returns the color for a connection state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return ColorConnected
	case "connecting":
		return ColorConnecting
	case "reconnecting":
		return ColorReconnecting
	case "error":
		return ColorError
	default:
		return ColorDisconnected
	}
}

// StateGlyph returns a Unicode glyph for a connection state name.
func StateGlyph(state string) string {
	switch state {
	case "connected":
		return "●"
	case "connecting":
		return "◎"
	case "reconnecting":
		return "◌"
	case "error":
		return "✗"
	default:
		return "○"
	}
}

// StatusColor returns the color for a workflow or agent status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "pending", "idle":
		return ColorPending
	case "running":
		return ColorRunning
	case "processing":
		return ColorProcessing
	case "completed":
		return ColorCompleted
	case "failed", "error":
		return ColorFailed
	case "paused":
		return ColorPaused
	default:
		return ColorDefault
	}
}

// AgentColor returns the color for an agent name.
func AgentColor(agent string) lipgloss.Color {
	switch agent {
	case "Research":
		return ColorResearch
	case "Data":
		return ColorData
	case "Experiment":
		return ColorExperiment
	case "Critic":
		return ColorCritic
	case "Visualization":
		return ColorVisualization
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
