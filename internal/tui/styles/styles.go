// Package styles provides consistent styling for the reviewer TUI.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary    = lipgloss.Color("#7C3AED")
	Secondary  = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	MutedColor = lipgloss.Color("#6B7280")
	White      = lipgloss.Color("#FFFFFF")

	// Muted text style
	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Status styles
	StatusOK = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	StatusWarning = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	StatusError = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	// Suggestion status badges
	BadgePending = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	BadgeApproved = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	BadgeRejected = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	BadgeExpired = lipgloss.NewStyle().
			Foreground(MutedColor).
			Bold(true)

	// Tab styles
	TabActive = lipgloss.NewStyle().
			Foreground(White).
			Background(Primary).
			Padding(0, 2).
			Bold(true)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	// Help text
	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	// Table styles
	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(MutedColor)

	TableRowSelected = lipgloss.NewStyle().
				Foreground(White).
				Background(Primary)

	// Panel around the decision form
	FormBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Primary).
		Padding(0, 1)

	// Section label inside the detail view
	SectionLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)
)

// StatusBadge returns the style for a suggestion status string.
func StatusBadge(status string) lipgloss.Style {
	switch status {
	case "pending":
		return BadgePending
	case "approved":
		return BadgeApproved
	case "rejected":
		return BadgeRejected
	case "expired":
		return BadgeExpired
	default:
		return Muted
	}
}
