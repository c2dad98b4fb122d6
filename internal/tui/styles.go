// Package tui is the terminal chat front end.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // violet
	colorWarning   = lipgloss.Color("#EAB308") // yellow
	colorError     = lipgloss.Color("#EF4444") // red
	colorInfo      = lipgloss.Color("#3B82F6") // blue
	colorMuted     = lipgloss.Color("#6B7280") // gray
	colorSurface   = lipgloss.Color("#313244")
	colorText      = lipgloss.Color("#CDD6F4")
	colorSubtext   = lipgloss.Color("#A6ADC8")
	colorBorder    = lipgloss.Color("#45475A")
	colorHighlight = lipgloss.Color("#F5C2E7") // pink
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorPrimary).
			Padding(0, 2)

	userLabelStyle = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(colorHighlight).
				Bold(true)

	messageStyle = lipgloss.NewStyle().
			Foreground(colorText).
			PaddingLeft(2)

	failedMessageStyle = lipgloss.NewStyle().
				Foreground(colorError).
				PaddingLeft(2)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(colorSubtext).
			Italic(true)

	logPaneStyle = lipgloss.NewStyle().
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorBorder)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorSubtext).
			Background(colorSurface).
			PaddingLeft(1).
			PaddingRight(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// Log level styles
var (
	logDebugStyle = lipgloss.NewStyle().Foreground(colorMuted)
	logInfoStyle  = lipgloss.NewStyle().Foreground(colorInfo)
	logWarnStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	logErrorStyle = lipgloss.NewStyle().Foreground(colorError)
)

// styleLogLine colors a line produced by the log formatter by its level tag.
func styleLogLine(line string) string {
	switch {
	case containsAny(line, "[error]", "[fatal]", "[panic]"):
		return logErrorStyle.Render(line)
	case containsAny(line, "[warn"):
		return logWarnStyle.Render(line)
	case containsAny(line, "[debug]"):
		return logDebugStyle.Render(line)
	default:
		return logInfoStyle.Render(line)
	}
}
