package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/mlist/internal/folder"
	"github.com/nhle/mlist/internal/keys"
	"github.com/nhle/mlist/internal/model"
	appsync "github.com/nhle/mlist/internal/sync"
	"github.com/nhle/mlist/internal/theme"
	"github.com/nhle/mlist/internal/ui"
	"github.com/nhle/mlist/internal/ui/command"
	"github.com/nhle/mlist/internal/ui/detail"
	helpview "github.com/nhle/mlist/internal/ui/help"
	"github.com/nhle/mlist/internal/ui/listing"
	"github.com/nhle/mlist/internal/ui/sortform"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewHelp
	ViewSort
	ViewCommand
)

// tickInterval is how often pending folder work is applied.
const tickInterval = 100 * time.Millisecond

// forceGetTimeout bounds the synchronous fetch when opening a message
// whose header has not arrived yet.
const forceGetTimeout = 10 * time.Second

type tickMsg time.Time

// Model is the root Bubble Tea model that manages view routing,
// layout, and the open folder.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	folder       *folder.Folder
	cfg          *model.AppConfig
	cfgPath      string
	log          zerolog.Logger
	keys         *keys.KeyMap
	list         listing.Model
	detail       detail.Model
	helpView     helpview.Model
	sortForm     sortform.Model
	commandView  command.Model
	spinner      spinner.Model
	message      string
	ready        bool
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Model) { m.log = log }
}

// WithConfig makes sort and thread changes persist to cfg, saved at path.
func WithConfig(cfg *model.AppConfig, path string) Option {
	return func(m *Model) {
		m.cfg = cfg
		m.cfgPath = path
	}
}

// New creates the root model for the open folder f.
func New(f *folder.Folder, opts ...Option) Model {
	k := keys.DefaultKeyMap()
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = theme.ProgressStyle

	m := Model{
		currentView: ViewList,
		folder:      f,
		log:         zerolog.Nop(),
		keys:        k,
		list:        listing.New(f, k, 80, 22),
		detail:      detail.New(k, 80, 22),
		helpView:    helpview.New(k, 80, 22),
		commandView: command.New(k, 80, 22),
		spinner:     sp,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		height := m.layout.ContentHeight()
		m.list.SetSize(msg.Width, height)
		m.detail.SetSize(msg.Width, height)
		m.helpView.SetSize(msg.Width, height)
		m.commandView.SetSize(msg.Width, height)
		if m.currentView == ViewSort {
			return m.updateActiveView(msg)
		}
		return m, nil

	case tickMsg:
		if n := m.folder.PumpPending(); n > 0 {
			m.log.Debug().Int("applied", n).Msg("folder updates applied")
		}
		m.list.Refresh()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case listing.SelectedMsg:
		return m.openMessage(msg.Pos), nil

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case sortform.DoneMsg:
		m.currentView = ViewList
		m.applyParams(msg.Sort, msg.Thread)
		return m, nil

	case sortform.CancelMsg:
		m.currentView = ViewList
		return m, nil

	case command.CommandMsg:
		m.currentView = ViewList
		return m, m.executeCommand(string(msg))

	case command.CancelMsg:
		m.currentView = ViewList
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		// Forms own every other key while they are open.
		if m.currentView == ViewSort || m.currentView == ViewCommand {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case m.currentView == ViewHelp && key.Matches(msg, m.keys.Back):
			m.currentView = m.previousView
			return m, nil

		case m.currentView != ViewList:
			// Remaining keys belong to the active view.

		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Reverse):
			sp := m.folder.Index().SortParams()
			sp.Reverse = !sp.Reverse
			m.applyParams(sp, m.folder.Index().ThreadParams())
			return m, nil

		case key.Matches(msg, m.keys.ToggleThreads):
			tp := m.folder.Index().ThreadParams()
			tp.UseThreading = !tp.UseThreading
			m.applyParams(m.folder.Index().SortParams(), tp)
			return m, nil

		case key.Matches(msg, m.keys.SortForm):
			idx := m.folder.Index()
			m.sortForm = sortform.New(idx.SortParams(), idx.ThreadParams(), m.layout.Width)
			m.previousView = m.currentView
			m.currentView = ViewSort
			return m, m.sortForm.Init()

		case key.Matches(msg, m.keys.Command):
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()
		}
	}

	return m.updateActiveView(msg)
}

// openMessage shows the header at pos, fetching it first if needed.
func (m Model) openMessage(pos uint32) Model {
	h, err := m.folder.RecordAtPosition(pos)
	if err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), forceGetTimeout)
		h, err = m.folder.ForceGet(ctx, pos)
		cancel()
	}
	if err != nil {
		m.log.Warn().Err(err).Uint32("pos", pos).Msg("open message")
		m.message = theme.ErrorStyle.Render(err.Error())
		return m
	}

	thread := ""
	if m.folder.Index().ThreadParams().UseThreading {
		thread = fmt.Sprintf("depth %d, %d direct replies",
			m.folder.GetIndentation(pos), m.folder.GetChildrenCount(pos))
	}
	m.detail.Show(h, thread)
	m.message = ""
	m.previousView = m.currentView
	m.currentView = ViewDetail
	return m
}

// applyParams changes the listing order and stores the choice.
func (m *Model) applyParams(sp model.SortParams, tp model.ThreadParams) {
	changed := m.folder.SetSortOrder(sp)
	changed = m.folder.SetThreadParameters(tp) || changed
	if !changed {
		return
	}
	m.list.Refresh()
	m.message = describe(sp, tp)

	if m.cfg == nil {
		return
	}
	m.cfg.SetSortParams(sp)
	m.cfg.SetThreadParams(tp)
	if m.cfgPath == "" {
		return
	}
	if err := model.SaveConfig(m.cfgPath, m.cfg); err != nil {
		m.log.Error().Err(err).Str("path", m.cfgPath).Msg("save config")
		m.message = theme.ErrorStyle.Render("could not save settings: " + err.Error())
	}
}

func describe(sp model.SortParams, tp model.ThreadParams) string {
	order := "arrival order"
	if sp.IsSorting() {
		order = fmt.Sprintf("sorted by %v", sp.Criteria)
	}
	if sp.Reverse {
		order += ", reversed"
	}
	if tp.UseThreading {
		order += ", threaded"
	}
	return order
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewSort:
		m.sortForm, cmd = m.sortForm.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := fmt.Sprintf("mlist: %s (%d)", m.folder.Name(), m.folder.Count())
	header := m.layout.RenderHeader(title, m.progress())
	statusBar := m.layout.RenderStatusBar(m.statusMessage(), m.helpView.ShortView())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.list.View()
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewSort:
		return m.sortForm.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// progress describes background header retrieval.
func (m Model) progress() string {
	if m.folder.Closed() {
		return "closed"
	}
	st := m.folder.FetchStatus()
	switch st.State {
	case appsync.FetchRunning:
		return fmt.Sprintf("%s %d missing", m.spinner.View(), m.folder.Missing())
	case appsync.FetchError:
		return theme.ErrorStyle.Render("fetch failed")
	default:
		return ""
	}
}

func (m Model) statusMessage() string {
	if msg := m.list.Message(); msg != "" && m.currentView == ViewList {
		return msg
	}
	return m.message
}
