package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/mlist/internal/app"
)

func tuiCmd(e *env) *cobra.Command {
	var offline, archive bool

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse the mailbox interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The terminal belongs to the UI; logs go to a file.
			logOut, closeLog, err := e.logFile()
			if err != nil {
				return err
			}
			defer closeLog()
			e.log = newLogger(logOut, e.cfg.Log.Level, e.verbose)

			of, err := e.openFolder(cmd.Context(), offline, archive && !offline)
			if err != nil {
				return err
			}
			defer of.Close()

			m := app.New(of.folder,
				app.WithLogger(e.log),
				app.WithConfig(e.cfg, e.cfgPath),
			)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running ui: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Browse the local cache instead of the server")
	cmd.Flags().BoolVar(&archive, "archive", true, "Store retrieved headers in the local cache")
	return cmd
}

// logFile opens mlist.log next to the header cache.
func (e *env) logFile() (io.Writer, func(), error) {
	if e.cfg.Cache.DBPath == ":memory:" {
		return io.Discard, func() {}, nil
	}
	dir := filepath.Dir(e.cfg.Cache.DBPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "mlist.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
