package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	subtle = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	danger = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F87"}
	live   = lipgloss.AdaptiveColor{Light: "#2E8540", Dark: "#50FA7B"}
)

type styles struct {
	tab       lipgloss.Style
	activeTab lipgloss.Style
	author    lipgloss.Style
	timestamp lipgloss.Style
	meta      lipgloss.Style
	reaction  lipgloss.Style
	status    lipgloss.Style
	errorText lipgloss.Style
	indicator lipgloss.Style
	online    lipgloss.Style
	offline   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		tab:       lipgloss.NewStyle().Padding(0, 1).Foreground(subtle),
		activeTab: lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(accent).Underline(true),
		author:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		timestamp: lipgloss.NewStyle().Foreground(subtle),
		meta:      lipgloss.NewStyle().Foreground(subtle),
		reaction:  lipgloss.NewStyle().Foreground(subtle),
		status:    lipgloss.NewStyle().Foreground(subtle),
		errorText: lipgloss.NewStyle().Foreground(danger),
		indicator: lipgloss.NewStyle().Bold(true).Foreground(accent),
		online:    lipgloss.NewStyle().Foreground(live),
		offline:   lipgloss.NewStyle().Foreground(danger),
	}
}
