package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mlist/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the title bar.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps the header detail and help panels.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// RowStyle is the base style for listing rows.
var RowStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedRowStyle highlights the row under the cursor.
var SelectedRowStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// PendingStyle is used for rows whose header is still being retrieved.
var PendingStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// LabelStyle is used for field names in the detail panel.
var LabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGray).
	Width(12)

// StatusStyle returns the style for a message with the given flags.
// Deletion wins over everything, then flagged, then unread.
func StatusStyle(s model.Status) lipgloss.Style {
	base := lipgloss.NewStyle()

	switch {
	case s.Has(model.StatusDeleted):
		return base.Foreground(ColorGray).Strikethrough(true)
	case s.Has(model.StatusFlagged):
		return base.Foreground(ColorRed)
	case !s.Has(model.StatusSeen):
		return base.Bold(true).Foreground(ColorWhite)
	case s.Has(model.StatusAnswered):
		return base.Foreground(ColorGreen)
	default:
		return base
	}
}

// ThreadStyle colors the tree guide drawn before threaded subjects.
var ThreadStyle = lipgloss.NewStyle().Foreground(ColorMagenta)

// ErrorStyle is used for error messages in the status bar.
var ErrorStyle = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)

// ProgressStyle is used for the retrieval progress indicator.
var ProgressStyle = lipgloss.NewStyle().Foreground(ColorYellow)
