package app

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mlist/internal/listing"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/theme"
)

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]

	var err error
	switch name {
	case "quit", "q":
		return tea.Quit
	case "goto", "g":
		err = m.gotoPosition(args)
	case "uid":
		err = m.gotoUID(args)
	case "sort":
		err = m.sortBy(args)
	case "reverse":
		sp := m.folder.Index().SortParams()
		sp.Reverse = !sp.Reverse
		m.applyParams(sp, m.folder.Index().ThreadParams())
	case "threads":
		err = m.setThreads(args)
	case "fetch":
		positions := make([]uint32, m.folder.Count())
		for i := range positions {
			positions[i] = uint32(i)
		}
		m.message = fmt.Sprintf("requested %d headers", m.folder.CacheRange(positions))
	default:
		err = fmt.Errorf("unknown command %q", name)
	}

	if err != nil {
		m.message = theme.ErrorStyle.Render(err.Error())
	}
	return nil
}

func oneArg(args []string, usage string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s", usage)
	}
	return args[0], nil
}

func (m *Model) gotoPosition(args []string) error {
	arg, err := oneArg(args, "goto <row>")
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || n == 0 {
		return fmt.Errorf("invalid row %q", arg)
	}
	m.list.GoTo(uint32(n - 1))
	return nil
}

func (m *Model) gotoUID(args []string) error {
	arg, err := oneArg(args, "uid <uid>")
	if err != nil {
		return err
	}
	uid, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uid %q", arg)
	}

	x := m.folder.Index()
	idx := x.GetIndexFromUID(uid)
	if idx == listing.NotFound {
		return fmt.Errorf("no message with uid %d", uid)
	}
	pos := x.GetPositionFromIndex(idx)
	if pos == listing.NotFound {
		return fmt.Errorf("message %d is not listed", uid)
	}
	m.list.GoTo(pos)
	return nil
}

// sortBy replaces the sort criteria, keeping reverse and own-address
// detection.
func (m *Model) sortBy(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: sort <criterion>[,<criterion>...]")
	}
	sp := m.folder.Index().SortParams()
	sp.Criteria = nil
	for _, name := range strings.Split(strings.Join(args, ","), ",") {
		if name == "" {
			continue
		}
		crit, err := model.ParseSortCriterion(name)
		if err != nil {
			return err
		}
		sp.Criteria = append(sp.Criteria, crit)
	}
	m.applyParams(sp, m.folder.Index().ThreadParams())
	return nil
}

func (m *Model) setThreads(args []string) error {
	arg, err := oneArg(args, "threads on|off")
	if err != nil {
		return err
	}
	tp := m.folder.Index().ThreadParams()
	switch arg {
	case "on":
		tp.UseThreading = true
	case "off":
		tp.UseThreading = false
	default:
		return fmt.Errorf("usage: threads on|off")
	}
	m.applyParams(m.folder.Index().SortParams(), tp)
	return nil
}
