package ui

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Border  lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Title: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Blue
			Bold(true),

		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("76")), // Green

		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		Info: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")), // Light gray

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true),

		Header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true).
			Padding(0, 1),

		Cell: lipgloss.NewStyle().
			Padding(0, 1),

		Border: lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")),
	}
}

// ForMessageType picks the style of a bot log line.
func (t Theme) ForMessageType(typ string) lipgloss.Style {
	switch typ {
	case "success":
		return t.Success
	case "error":
		return t.Error
	case "warning":
		return t.Warning
	default:
		return t.Info
	}
}
