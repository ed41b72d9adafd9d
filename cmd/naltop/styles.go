package main

import "github.com/charmbracelet/lipgloss"

var (
	Primary = lipgloss.Color("#FF6B35")
	Success = lipgloss.Color("#4CAF50")
	Warning = lipgloss.Color("#FFB74D")
	Error   = lipgloss.Color("#F44336")
	Text    = lipgloss.Color("#E0E0E0")
	Muted   = lipgloss.Color("#90A4AE")
	Offline = lipgloss.Color("#424242")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	TableHeaderStyle = lipgloss.NewStyle().
				Foreground(Primary).
				Bold(true)

	RowStyle = lipgloss.NewStyle().
			Foreground(Text)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#1E88E5")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)
)

// StatusBadge renders a stream status.
func StatusBadge(status string) string {
	switch status {
	case "active":
		return lipgloss.NewStyle().Foreground(Success).Bold(true).Render("LIVE")
	case "awaiting_parameters":
		return lipgloss.NewStyle().Foreground(Warning).Bold(true).Render("WAIT")
	default:
		return lipgloss.NewStyle().Foreground(Offline).Bold(true).Render("OFF")
	}
}
