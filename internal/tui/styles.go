package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Node state styles
var (
	StyleStateRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStateSucceeded = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStateFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStateBlocked = lipgloss.NewStyle().
				Foreground(lipgloss.Color("magenta")).
				Bold(true)

	StyleStateEscalated = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Underline(true)

	StyleStatePending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StylePhase = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)
)

// styleForState maps a node state string to its display style.
func styleForState(state string) lipgloss.Style {
	switch state {
	case "running":
		return StyleStateRunning
	case "succeeded":
		return StyleStateSucceeded
	case "failed", "aborted":
		return StyleStateFailed
	case "blocked":
		return StyleStateBlocked
	case "escalated":
		return StyleStateEscalated
	default:
		return StyleStatePending
	}
}
