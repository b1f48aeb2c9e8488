package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette.
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// Styles for table output.
var (
	// HeaderStyle for the header row of list tables.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// SuccessStyle for success states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for degraded states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for error states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// MutedStyle for placeholders.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// StateStyle returns a style based on a status value.
func StateStyle(state string) (lipgloss.Style, bool) {
	switch state {
	case "success", "completed", "true":
		return SuccessStyle, true
	case "fallback", "busy", "reused":
		return WarningStyle, true
	case "error", "failed":
		return ErrorStyle, true
	default:
		return lipgloss.Style{}, false
	}
}

// styleLine colors one aligned table line. Header lines are bold; key/value
// lines for status-like keys are colored by their value.
func styleLine(line string, header bool) string {
	if header {
		return HeaderStyle.Render(line)
	}
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return line
	}
	switch strings.TrimSpace(key) {
	case "status", "fallback":
	default:
		return line
	}
	if style, ok := StateStyle(strings.TrimSpace(value)); ok {
		return style.Render(line)
	}
	return line
}
