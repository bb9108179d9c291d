package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/mlist/internal/keys"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/theme"
)

// BackMsg signals the parent to navigate back to the listing.
type BackMsg struct{}

// Model shows every field of one message header.
type Model struct {
	header   *model.Header
	thread   string
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Show replaces the displayed header. thread describes its place in the
// thread, empty when the listing is not threaded.
func (m *Model) Show(h model.Header, thread string) {
	m.header = &h
	m.thread = thread
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Back) {
		return m, func() tea.Msg { return BackMsg{} }
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail panel.
func (m Model) View() string {
	if m.header == nil {
		return theme.HelpStyle.Render("No message selected")
	}
	return theme.DetailPanelStyle.
		Width(max(m.width-4, 10)).
		Render(m.viewport.View())
}

func (m Model) renderContent() string {
	h := m.header
	var b strings.Builder

	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", theme.LabelStyle.Render(label), value)
	}

	field("Subject", h.Subject)
	field("From", h.From)
	field("To", h.To)
	field("Newsgroups", h.Newsgroups)
	if !h.Date.IsZero() {
		field("Date", fmt.Sprintf("%s (%s)", h.Date.Format("Mon, 02 Jan 2006 15:04 MST"), humanize.Time(h.Date)))
	}
	field("Message-ID", h.MessageID)
	field("In-Reply-To", h.InReplyTo)
	field("References", h.References)
	field("Status", theme.StatusStyle(h.Status).Render(h.Status.String()))
	field("Size", humanize.IBytes(h.Size))
	field("Sequence", fmt.Sprintf("%d", h.SeqNum))
	if h.UID != model.UIDIllegal {
		field("UID", fmt.Sprintf("%d", h.UID))
	}
	field("Thread", m.thread)

	return b.String()
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width - 6
	m.viewport.Height = height - 4
	if m.header != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
