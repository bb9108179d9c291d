package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/mlist/internal/credential"
	"github.com/nhle/mlist/internal/folder"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/source"
	"github.com/nhle/mlist/internal/source/email"
	"github.com/nhle/mlist/internal/store"
	appsync "github.com/nhle/mlist/internal/sync"
)

// env is the state shared by all subcommands.
type env struct {
	cfgPath   string
	accountID string
	verbose   bool

	cfg *model.AppConfig
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{log: zerolog.Nop()}

	root := &cobra.Command{
		Use:          "mlist",
		Short:        "Threaded mail folder listings",
		Version:      versionString(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(e.cfgPath)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = newLogger(cmd.ErrOrStderr(), cfg.Log.Level, e.verbose)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&e.cfgPath, "config", model.DefaultConfigPath(), "Path to the config file")
	root.PersistentFlags().StringVarP(&e.accountID, "account", "a", "", "Account ID (default: first configured)")
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		listCmd(e),
		syncCmd(e),
		tuiCmd(e),
		loginCmd(e),
	)
	return root
}

func versionString() string {
	if commit == "" {
		return version
	}
	return fmt.Sprintf("%s (%s)", version, commit)
}

// newLogger builds a console logger writing to w. Unknown level names
// fall back to info.
func newLogger(w io.Writer, level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// account resolves the selected account.
func (e *env) account() (*model.AccountConfig, error) {
	return e.cfg.Account(e.accountID)
}

// folderKey names an account's mailbox in the header cache.
func folderKey(acct *model.AccountConfig) string {
	return acct.ID + "/" + acct.Mailbox
}

// openStore opens the header cache, creating its directory.
func (e *env) openStore() (*store.SQLiteStore, error) {
	path := e.cfg.Cache.DBPath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	return store.NewSQLiteStore(path)
}

// imapSource connects to the account's mailbox.
func (e *env) imapSource(acct *model.AccountConfig) (*email.Source, error) {
	password, err := credential.Password(acct.ID)
	if err != nil {
		return nil, fmt.Errorf("password for %s (run \"mlist login\" or set %s): %w",
			acct.ID, credential.PasswordEnv, err)
	}
	return email.New(*acct, password, email.WithLogger(e.log)), nil
}

// opened is an open folder plus what must be released with it.
type opened struct {
	folder *folder.Folder
	store  *store.SQLiteStore
}

func (o *opened) Close() {
	o.folder.Close()
	if o.store != nil {
		o.store.Close()
	}
}

// openFolder opens the selected mailbox, from the header cache when
// offline is set. Online folders archive retrieved headers in the
// cache when archive is set.
func (e *env) openFolder(ctx context.Context, offline, archive bool) (*opened, error) {
	acct, err := e.account()
	if err != nil {
		return nil, err
	}
	cfg, err := folder.ConfigFromApp(e.cfg)
	if err != nil {
		return nil, err
	}

	o := &opened{}
	opts := []folder.Option{folder.WithLogger(e.log)}

	var src source.Source
	if offline || archive {
		if o.store, err = e.openStore(); err != nil {
			return nil, err
		}
	}
	if offline {
		src = store.NewFolderSource(o.store, folderKey(acct))
	} else {
		if src, err = e.imapSource(acct); err != nil {
			o.closeStore()
			return nil, err
		}
		if archive {
			opts = append(opts, folder.WithArchive(o.store))
		}
	}

	f, err := folder.Open(ctx, folderKey(acct), src, cfg, opts...)
	if err != nil {
		src.Close()
		o.closeStore()
		return nil, err
	}
	o.folder = f
	return o, nil
}

func (o *opened) closeStore() {
	if o.store != nil {
		o.store.Close()
	}
}

// waitComplete applies folder work until every header is cached.
func waitComplete(ctx context.Context, f *folder.Folder) error {
	for f.Missing() > 0 {
		if f.Closed() {
			return fmt.Errorf("folder %s was closed", f.Name())
		}
		if st := f.FetchStatus(); st.State == appsync.FetchError && st.Error != nil {
			return st.Error
		}
		if f.PumpPending() > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}
