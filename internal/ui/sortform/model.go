// Package sortform is the form for choosing the listing order and the
// threading options.
package sortform

import (
	"fmt"
	"regexp"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/mlist/internal/model"
)

// DoneMsg carries the parameters chosen in a completed form.
type DoneMsg struct {
	Sort   model.SortParams
	Thread model.ThreadParams
}

// CancelMsg signals that the form was aborted.
type CancelMsg struct{}

var keyChoices = []model.SortKey{
	model.SortNone,
	model.SortDate,
	model.SortSubject,
	model.SortSender,
	model.SortStatus,
	model.SortScore,
	model.SortSize,
}

// fields holds the values the form edits. It lives on the heap so the
// bindings survive copies of Model.
type fields struct {
	Primary      model.SortKey
	PrimaryRev   bool
	Secondary    model.SortKey
	SecondaryRev bool
	Reverse      bool
	DetectOwn    bool

	Threading        bool
	Gather           bool
	Break            bool
	IndentDummy      bool
	RemoveListPrefix bool
	Regex            string
	Replacement      string
}

// fieldsFrom fills the form from the current parameters. Only the first
// two criteria can be edited.
func fieldsFrom(sp model.SortParams, tp model.ThreadParams) *fields {
	f := &fields{
		Reverse:          sp.Reverse,
		DetectOwn:        sp.DetectOwnAddresses,
		Threading:        tp.UseThreading,
		Gather:           tp.GatherSubjects,
		Break:            tp.BreakThreads,
		IndentDummy:      tp.IndentIfDummyNode,
		RemoveListPrefix: tp.RemoveListPrefix,
		Regex:            tp.SimplifyingRegex,
		Replacement:      tp.ReplacementString,
	}
	if len(sp.Criteria) > 0 {
		f.Primary, f.PrimaryRev = sp.Criteria[0].Key, sp.Criteria[0].Reverse
	}
	if len(sp.Criteria) > 1 {
		f.Secondary, f.SecondaryRev = sp.Criteria[1].Key, sp.Criteria[1].Reverse
	}
	return f
}

// params converts the form values back. base supplies what the form
// does not edit.
func (f *fields) params(base model.SortParams) (model.SortParams, model.ThreadParams) {
	sp := model.SortParams{
		Reverse:            f.Reverse,
		DetectOwnAddresses: f.DetectOwn,
		OwnAddresses:       base.OwnAddresses,
	}
	for _, c := range []model.SortCriterion{
		{Key: f.Primary, Reverse: f.PrimaryRev},
		{Key: f.Secondary, Reverse: f.SecondaryRev},
	} {
		if c.Key != model.SortNone {
			sp.Criteria = append(sp.Criteria, c)
		}
	}
	if len(base.Criteria) > 2 && f.Primary == base.Criteria[0].Key && f.Secondary == base.Criteria[1].Key {
		sp.Criteria = append(sp.Criteria, base.Criteria[2:]...)
	}

	tp := model.ThreadParams{
		UseThreading:      f.Threading,
		GatherSubjects:    f.Gather,
		BreakThreads:      f.Break,
		IndentIfDummyNode: f.IndentDummy,
		RemoveListPrefix:  f.RemoveListPrefix,
		SimplifyingRegex:  f.Regex,
		ReplacementString: f.Replacement,
	}
	return sp, tp
}

func validateRegex(s string) error {
	if s == "" {
		return nil
	}
	if _, err := regexp.Compile(s); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}
	return nil
}

// Model wraps the huh form.
type Model struct {
	form  *huh.Form
	f     *fields
	base  model.SortParams
	width int
}

// New builds the form for the current parameters.
func New(sp model.SortParams, tp model.ThreadParams, width int) Model {
	m := Model{f: fieldsFrom(sp, tp), base: sp.Clone(), width: width}
	m.form = m.build()
	return m
}

func keyOptions() []huh.Option[model.SortKey] {
	opts := make([]huh.Option[model.SortKey], 0, len(keyChoices))
	for _, k := range keyChoices {
		opts = append(opts, huh.NewOption(k.String(), k))
	}
	return opts
}

func (m Model) build() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[model.SortKey]().
				Title("Sort by").
				Options(keyOptions()...).
				Value(&m.f.Primary),
			huh.NewConfirm().
				Title("Descending").
				Value(&m.f.PrimaryRev),
			huh.NewSelect[model.SortKey]().
				Title("Then by").
				Options(keyOptions()...).
				Value(&m.f.Secondary),
			huh.NewConfirm().
				Title("Descending").
				Value(&m.f.SecondaryRev),
			huh.NewConfirm().
				Title("Reverse the whole listing").
				Value(&m.f.Reverse),
			huh.NewConfirm().
				Title("Show recipient for my own messages").
				Value(&m.f.DetectOwn),
		).Title("Sorting"),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Thread messages").
				Value(&m.f.Threading),
			huh.NewConfirm().
				Title("Gather threads by subject").
				Value(&m.f.Gather),
			huh.NewConfirm().
				Title("Break threads whose subject changed").
				Value(&m.f.Break),
			huh.NewConfirm().
				Title("Indent replies to missing messages").
				Value(&m.f.IndentDummy),
			huh.NewConfirm().
				Title("Ignore [list] prefixes in subjects").
				Value(&m.f.RemoveListPrefix),
			huh.NewInput().
				Title("Subject simplifying expression").
				Description("Regular expression removed from subjects before comparing").
				Placeholder(`^(re|fwd?):\s*`).
				Value(&m.f.Regex).
				Validate(validateRegex),
			huh.NewInput().
				Title("Replacement").
				Description("Text substituted for the match ($1 refers to groups)").
				Value(&m.f.Replacement),
		).Title("Threading"),
	).WithWidth(m.width).WithShowHelp(true)
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update forwards msg to the form and reports completion.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		sp, tp := m.f.params(m.base)
		return m, func() tea.Msg { return DoneMsg{Sort: sp, Thread: tp} }
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	return m.form.View()
}
