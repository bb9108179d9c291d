// Package listing is the scrolling, threaded header list view.
package listing

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/nhle/mlist/internal/folder"
	"github.com/nhle/mlist/internal/keys"
	idx "github.com/nhle/mlist/internal/listing"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/sorting"
	"github.com/nhle/mlist/internal/theme"
)

// SelectedMsg is sent when the user opens the message at Pos.
type SelectedMsg struct {
	Pos uint32
}

const (
	flagsWidth  = 4
	dateWidth   = 12
	senderWidth = 22
)

// Model is the header listing of one folder.
type Model struct {
	folder *folder.Folder
	keys   *keys.KeyMap

	sortParams model.SortParams

	cursor uint32
	offset uint32
	// selected is the UID under the cursor, used to follow the message
	// when the listing is rebuilt.
	selected uint64
	lastMod  uint64
	message  string

	width  int
	height int
}

// New creates the listing view for f.
func New(f *folder.Folder, k *keys.KeyMap, width, height int) Model {
	m := Model{
		folder:   f,
		keys:     k,
		selected: model.UIDIllegal,
		width:    width,
		height:   height,
	}
	m.sortParams = f.Index().SortParams()
	m.lastMod = f.LastMod()
	m.requestVisible()
	return m
}

// Cursor returns the position under the cursor.
func (m Model) Cursor() uint32 {
	return m.cursor
}

// Message returns the last notice for the status bar.
func (m Model) Message() string {
	return m.message
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.scroll()
	m.requestVisible()
}

// Refresh follows the listing after the folder changed: the cursor
// stays on the same message when it still exists.
func (m *Model) Refresh() {
	if !m.folder.HasChanged(m.lastMod) {
		if m.selected == model.UIDIllegal {
			m.remember()
		}
		return
	}
	m.lastMod = m.folder.LastMod()
	m.sortParams = m.folder.Index().SortParams()

	if m.selected != model.UIDIllegal {
		x := m.folder.Index()
		if i := x.GetIndexFromUID(m.selected); i != idx.NotFound {
			if p := x.GetPositionFromIndex(i); p != idx.NotFound {
				m.cursor = p
			}
		}
	}
	m.clamp()
	m.scroll()
	m.remember()
	m.requestVisible()
}

func (m *Model) clamp() {
	n := m.folder.Count()
	switch {
	case n == 0:
		m.cursor = 0
	case m.cursor >= n:
		m.cursor = n - 1
	}
}

func (m *Model) rows() uint32 {
	return uint32(max(m.height, 1))
}

// scroll keeps the cursor inside the visible window.
func (m *Model) scroll() {
	rows := m.rows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}

func (m *Model) remember() {
	m.selected = model.UIDIllegal
	if h, err := m.folder.RecordAtPosition(m.cursor); err == nil {
		m.selected = h.UID
	}
}

// requestVisible asks for the headers of the visible rows.
func (m *Model) requestVisible() {
	n := m.folder.Count()
	if m.folder.Closed() || n == 0 {
		return
	}
	end := min(m.offset+m.rows(), n)
	positions := make([]uint32, 0, end-m.offset)
	for p := m.offset; p < end; p++ {
		positions = append(positions, p)
	}
	m.folder.CacheRange(positions)
}

func (m *Model) moveTo(pos uint32) {
	m.cursor = pos
	m.clamp()
	m.scroll()
	m.remember()
	m.requestVisible()
}

// GoTo moves the cursor to pos, clamped to the listing.
func (m *Model) GoTo(pos uint32) {
	m.message = ""
	m.moveTo(pos)
}

// Update handles key presses.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	kmsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	n := m.folder.Count()
	if n == 0 {
		return m, nil
	}
	m.message = ""

	switch {
	case key.Matches(kmsg, m.keys.Down):
		if m.cursor+1 < n {
			m.moveTo(m.cursor + 1)
		}
	case key.Matches(kmsg, m.keys.Up):
		if m.cursor > 0 {
			m.moveTo(m.cursor - 1)
		}
	case key.Matches(kmsg, m.keys.PageDown):
		m.moveTo(min(m.cursor+m.rows(), n-1))
	case key.Matches(kmsg, m.keys.PageUp):
		m.moveTo(m.cursor - min(m.cursor, m.rows()))
	case key.Matches(kmsg, m.keys.Top):
		m.moveTo(0)
	case key.Matches(kmsg, m.keys.Bottom):
		m.moveTo(n - 1)
	case key.Matches(kmsg, m.keys.NextUnread):
		m.find(model.StatusSeen, false, "unread")
	case key.Matches(kmsg, m.keys.NextFlagged):
		m.find(model.StatusFlagged, true, "flagged")
	case key.Matches(kmsg, m.keys.Select):
		pos := m.cursor
		return m, func() tea.Msg { return SelectedMsg{Pos: pos} }
	}
	return m, nil
}

func (m *Model) find(flag model.Status, set bool, what string) {
	p := m.folder.Index().FindByFlagWrap(flag, set, m.cursor)
	if p == idx.NotFound {
		m.message = fmt.Sprintf("No %s messages", what)
		return
	}
	m.moveTo(p)
}

// View renders the visible rows.
func (m Model) View() string {
	if m.folder.Closed() {
		return theme.HelpStyle.Render("Folder closed")
	}
	n := m.folder.Count()
	if n == 0 {
		return theme.HelpStyle.Render("No messages")
	}

	end := min(m.offset+m.rows(), n)
	lines := make([]string, 0, end-m.offset)
	for p := m.offset; p < end; p++ {
		lines = append(lines, m.renderRow(p))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(pos uint32) string {
	width := max(m.width-3, 20)
	h, err := m.folder.RecordAtPosition(pos)

	var line string
	if err != nil || !h.IsValid() {
		line = theme.PendingStyle.Render(runewidth.Truncate("retrieving…", width, "…"))
	} else {
		line = m.formatHeader(&h, m.folder.GetIndentation(pos), width)
		line = theme.StatusStyle(h.Status).Render(line)
	}

	if pos == m.cursor {
		return theme.SelectedRowStyle.Render(line)
	}
	return theme.RowStyle.Render(line)
}

func (m Model) formatHeader(h *model.Header, indent uint32, width int) string {
	sender, kind := sorting.FromOrTo(h, m.sortParams.DetectOwnAddresses, m.sortParams.OwnAddresses)
	if kind == model.KindTo || kind == model.KindNewsgroup {
		sender = "To: " + sender
	}

	date := ""
	if !h.Date.IsZero() {
		date = h.Date.Local().Format("Jan 02 15:04")
	}

	tree := ""
	if indent > 0 {
		tree = strings.Repeat("  ", int(indent-1)) + "└ "
	}

	fixed := runewidth.FillRight(flagLetters(h.Status), flagsWidth) +
		runewidth.FillRight(date, dateWidth) + " " +
		runewidth.FillRight(runewidth.Truncate(sender, senderWidth-1, "…"), senderWidth)
	rest := max(width-runewidth.StringWidth(fixed), 0)
	return fixed + runewidth.Truncate(tree+h.Subject, rest, "…")
}

// flagLetters is the compact status column: N for unread, then the
// letters of the remaining flags.
func flagLetters(s model.Status) string {
	var b strings.Builder
	if !s.Has(model.StatusSeen) {
		b.WriteByte('N')
	}
	if s.Has(model.StatusFlagged) {
		b.WriteByte('!')
	}
	if s.Has(model.StatusAnswered) {
		b.WriteByte('r')
	}
	if s.Has(model.StatusDeleted) {
		b.WriteByte('D')
	}
	return b.String()
}
